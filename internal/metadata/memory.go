package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"file-drop/internal/drop"
)

// Memory is a process-local Store. Data does not survive a restart and is not
// shared between instances.
type Memory struct {
	mu     sync.Mutex
	files  map[string]drop.FileRecord
	groups map[string]drop.Group
}

func NewMemory() *Memory {
	return &Memory{
		files:  make(map[string]drop.FileRecord),
		groups: make(map[string]drop.Group),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Code == code {
			return true, nil
		}
	}
	return false, nil
}

// errSlotTaken mirrors the unique (code, batch index) constraint of the
// database backends.
var errSlotTaken = errors.New("code and batch index already taken")

func (m *Memory) InsertFile(_ context.Context, rec drop.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[rec.ID]; ok {
		return fmt.Errorf("insert file %s: duplicate id", rec.ID)
	}
	if m.slotTaken(rec) {
		return fmt.Errorf("insert file %s/%d: %w", rec.Code, rec.BatchIndex, errSlotTaken)
	}
	m.files[rec.ID] = rec
	return nil
}

// InsertFileFallback keeps a record already stored under rec.ID but fails
// when another record holds the slot.
func (m *Memory) InsertFileFallback(_ context.Context, rec drop.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[rec.ID]; ok {
		return nil
	}
	if m.slotTaken(rec) {
		return fmt.Errorf("insert file fallback %s/%d: %w", rec.Code, rec.BatchIndex, errSlotTaken)
	}
	rec.IsDownloaded = false
	m.files[rec.ID] = rec
	return nil
}

func (m *Memory) slotTaken(rec drop.FileRecord) bool {
	for _, f := range m.files {
		if f.Code == rec.Code && f.BatchIndex == rec.BatchIndex {
			return true
		}
	}
	return false
}

func (m *Memory) FindByCode(_ context.Context, code string) ([]drop.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(f drop.FileRecord) bool { return f.Code == code }, byBatchIndex, 0), nil
}

func (m *Memory) ClaimBatch(_ context.Context, code string, now time.Time) ([]drop.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.filter(func(f drop.FileRecord) bool {
		return f.Code == code && !f.Grouped()
	}, byBatchIndex, 0)
	if len(recs) == 0 {
		return nil, drop.ErrNotFound
	}
	for _, r := range recs {
		if r.IsDownloaded || r.Expired(now) {
			return nil, drop.ErrGone
		}
	}
	for i := range recs {
		recs[i].IsDownloaded = true
		m.files[recs[i].ID] = recs[i]
	}
	return recs, nil
}

func (m *Memory) ReleaseBatch(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.files {
		if f.Code == code && !f.Grouped() {
			f.IsDownloaded = false
			m.files[id] = f
		}
	}
	return nil
}

func (m *Memory) FindSweepable(_ context.Context, now time.Time, limit int) ([]drop.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(f drop.FileRecord) bool {
		return !f.Grouped() && (f.IsDownloaded || f.Expired(now))
	}, byExpiry, limit), nil
}

func (m *Memory) FindExpiredGroupFiles(_ context.Context, now time.Time, limit int) ([]drop.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(f drop.FileRecord) bool {
		return f.Grouped() && f.Expired(now)
	}, byExpiry, limit), nil
}

func (m *Memory) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *Memory) CreateGroup(_ context.Context, g drop.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.GroupID]; ok {
		return drop.ErrGroupExists
	}
	m.groups[g.GroupID] = g
	return nil
}

func (m *Memory) GetGroup(_ context.Context, groupID string) (drop.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return drop.Group{}, drop.ErrGroupNotFound
	}
	return g, nil
}

func (m *Memory) FindByGroup(_ context.Context, groupID string) ([]drop.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(f drop.FileRecord) bool { return f.GroupID == groupID }, newestFirst, 0), nil
}

func byBatchIndex(a, b drop.FileRecord) bool { return a.BatchIndex < b.BatchIndex }
func byExpiry(a, b drop.FileRecord) bool     { return a.ExpiresAt.Before(b.ExpiresAt) }
func newestFirst(a, b drop.FileRecord) bool  { return a.UploadedAt.After(b.UploadedAt) }

// filter returns matching records sorted by less, truncated to limit when
// limit is positive. Callers hold mu.
func (m *Memory) filter(match func(drop.FileRecord) bool, less func(a, b drop.FileRecord) bool, limit int) []drop.FileRecord {
	var out []drop.FileRecord
	for _, f := range m.files {
		if match(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
