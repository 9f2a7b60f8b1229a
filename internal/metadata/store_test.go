package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"file-drop/internal/drop"
)

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	file := func(code string, idx int, expires time.Time) drop.FileRecord {
		return drop.FileRecord{
			ID:         uuid.NewString(),
			Code:       code,
			BatchIndex: idx,
			StorageKey: "uploads/" + code + "-" + uuid.NewString(),
			Filename:   "f.txt",
			MimeType:   "text/plain",
			FileSize:   int64(10 + idx),
			ExpiresAt:  expires,
			UploadedAt: now,
		}
	}

	t.Run("insert and find ordered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertFile(ctx, file("aa0001", 1, now.Add(time.Hour))))
		require.NoError(t, s.InsertFileFallback(ctx, file("aa0001", 0, now.Add(time.Hour))))

		exists, err := s.CodeExists(ctx, "aa0001")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = s.CodeExists(ctx, "ffffff")
		require.NoError(t, err)
		assert.False(t, exists)

		recs, err := s.FindByCode(ctx, "aa0001")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, 0, recs[0].BatchIndex)
		assert.Equal(t, 1, recs[1].BatchIndex)
		assert.False(t, recs[0].IsDownloaded)
		assert.True(t, recs[0].ExpiresAt.Equal(now.Add(time.Hour)))
	})

	t.Run("fallback never overwrites another record's slot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := file("ef0001", 0, now.Add(time.Hour))
		require.NoError(t, s.InsertFile(ctx, first))

		rival := file("ef0001", 0, now.Add(time.Hour))
		assert.Error(t, s.InsertFile(ctx, rival))
		assert.Error(t, s.InsertFileFallback(ctx, rival))

		// A lost acknowledgement of the primary write is not an error.
		assert.NoError(t, s.InsertFileFallback(ctx, first))

		recs, err := s.FindByCode(ctx, "ef0001")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, first.ID, recs[0].ID)
		assert.Equal(t, first.StorageKey, recs[0].StorageKey)
	})

	t.Run("claim once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertFile(ctx, file("bb0001", 0, now.Add(time.Hour))))
		require.NoError(t, s.InsertFile(ctx, file("bb0001", 1, now.Add(time.Hour))))

		claimed, err := s.ClaimBatch(ctx, "bb0001", now)
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.True(t, claimed[0].IsDownloaded)

		_, err = s.ClaimBatch(ctx, "bb0001", now)
		assert.ErrorIs(t, err, drop.ErrGone)

		require.NoError(t, s.ReleaseBatch(ctx, "bb0001"))
		_, err = s.ClaimBatch(ctx, "bb0001", now)
		assert.NoError(t, err, "released batch can be claimed again")

		_, err = s.ClaimBatch(ctx, "cc0001", now)
		assert.ErrorIs(t, err, drop.ErrNotFound)
	})

	t.Run("claim rejects partly expired batch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertFile(ctx, file("dd0001", 0, now.Add(time.Hour))))
		require.NoError(t, s.InsertFile(ctx, file("dd0001", 1, now.Add(-time.Minute))))

		_, err := s.ClaimBatch(ctx, "dd0001", now)
		assert.ErrorIs(t, err, drop.ErrGone)

		recs, err := s.FindByCode(ctx, "dd0001")
		require.NoError(t, err)
		for _, r := range recs {
			assert.False(t, r.IsDownloaded)
		}
	})

	t.Run("concurrent claims", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.InsertFile(ctx, file("ee0001", i, now.Add(time.Hour))))
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ClaimBatch(ctx, "ee0001", now); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("sweep queries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateGroup(ctx, drop.Group{GroupID: "grp001", Name: "g", CreatedAt: now}))

		active := file("ff0001", 0, now.Add(time.Hour))
		expired := file("ff0002", 0, now.Add(-time.Hour))
		used := file("ff0003", 0, now.Add(time.Hour))
		grouped := file("ff0004", 0, now.Add(-time.Hour))
		grouped.GroupID = "grp001"
		for _, r := range []drop.FileRecord{active, expired, used, grouped} {
			require.NoError(t, s.InsertFile(ctx, r))
		}
		_, err := s.ClaimBatch(ctx, "ff0003", now)
		require.NoError(t, err)

		sweep, err := s.FindSweepable(ctx, now, 100)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{expired.ID, used.ID}, ids(sweep))

		limited, err := s.FindSweepable(ctx, now, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		groupSweep, err := s.FindExpiredGroupFiles(ctx, now, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{grouped.ID}, ids(groupSweep))

		require.NoError(t, s.DeleteFile(ctx, expired.ID))
		require.NoError(t, s.DeleteFile(ctx, expired.ID), "deleting twice is not an error")
		sweep, err = s.FindSweepable(ctx, now, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{used.ID}, ids(sweep))
	})

	t.Run("groups", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		g := drop.Group{GroupID: "grp002", Name: "photos", CreatedAt: now}
		require.NoError(t, s.CreateGroup(ctx, g))
		assert.ErrorIs(t, s.CreateGroup(ctx, g), drop.ErrGroupExists)

		got, err := s.GetGroup(ctx, "grp002")
		require.NoError(t, err)
		assert.Equal(t, "photos", got.Name)
		assert.True(t, got.CreatedAt.Equal(now))

		_, err = s.GetGroup(ctx, "nope00")
		assert.ErrorIs(t, err, drop.ErrGroupNotFound)

		older := file("ab0001", 0, now.Add(time.Hour))
		older.GroupID = "grp002"
		newer := file("ab0002", 0, now.Add(time.Hour))
		newer.GroupID = "grp002"
		newer.UploadedAt = now.Add(time.Minute)
		require.NoError(t, s.InsertFile(ctx, older))
		require.NoError(t, s.InsertFile(ctx, newer))

		files, err := s.FindByGroup(ctx, "grp002")
		require.NoError(t, err)
		assert.Equal(t, []string{newer.ID, older.ID}, ids(files))
		assert.Equal(t, "grp002", files[0].GroupID)

		_, err = s.ClaimBatch(ctx, "ab0001", now)
		assert.ErrorIs(t, err, drop.ErrNotFound, "group files are never claimed")
	})
}

func ids(recs []drop.FileRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
