package drop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var errBoom = errors.New("boom")

type memMeta struct {
	mu     sync.Mutex
	files  map[string]FileRecord
	groups map[string]Group

	insertErr   func(FileRecord) error
	fallbackErr func(FileRecord) error
	findErr     error
	inserts     int
	fallbacks   int
}

func newMemMeta() *memMeta {
	return &memMeta{files: map[string]FileRecord{}, groups: map[string]Group{}}
}

func (m *memMeta) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memMeta) InsertFile(_ context.Context, rec FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		if err := m.insertErr(rec); err != nil {
			return err
		}
	}
	m.files[rec.ID] = rec
	return nil
}

func (m *memMeta) InsertFileFallback(_ context.Context, rec FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
	if m.fallbackErr != nil {
		if err := m.fallbackErr(rec); err != nil {
			return err
		}
	}
	m.files[rec.ID] = rec
	return nil
}

func (m *memMeta) byCode(code string, grouped bool) []FileRecord {
	var out []FileRecord
	for _, f := range m.files {
		if f.Code == code && (grouped || !f.Grouped()) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchIndex < out[j].BatchIndex })
	return out
}

func (m *memMeta) FindByCode(_ context.Context, code string) ([]FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byCode(code, true), nil
}

func (m *memMeta) ClaimBatch(_ context.Context, code string, now time.Time) ([]FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.byCode(code, false)
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	for _, r := range recs {
		if r.IsDownloaded || r.Expired(now) {
			return nil, ErrGone
		}
	}
	for i := range recs {
		recs[i].IsDownloaded = true
		m.files[recs[i].ID] = recs[i]
	}
	return recs, nil
}

func (m *memMeta) ReleaseBatch(_ context.Context, code string) error {
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

func (m *memMeta) FindSweepable(_ context.Context, now time.Time, limit int) ([]FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FileRecord
	for _, f := range m.files {
		if !f.Grouped() && (f.IsDownloaded || f.Expired(now)) && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memMeta) FindExpiredGroupFiles(_ context.Context, now time.Time, limit int) ([]FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FileRecord
	for _, f := range m.files {
		if f.Grouped() && f.Expired(now) && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memMeta) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *memMeta) CreateGroup(_ context.Context, g Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[g.GroupID]; ok {
		return ErrGroupExists
	}
	m.groups[g.GroupID] = g
	return nil
}

func (m *memMeta) GetGroup(_ context.Context, id string) (Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (m *memMeta) FindByGroup(_ context.Context, id string) ([]FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FileRecord
	for _, f := range m.files {
		if f.GroupID == id {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (m *memMeta) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr    func(key string) error
	signErr   func(key string) error
	deleteErr func(key string) error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		if err := b.putErr(key); err != nil {
			return err
		}
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Sign(_ context.Context, key string, _ time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signErr != nil {
		if err := b.signErr(key); err != nil {
			return "", err
		}
	}
	return "https://blobs.test/" + key, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		if err := b.deleteErr(key); err != nil {
			return err
		}
	}
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type stubQR struct{}

func (stubQR) Encode(content string) (string, error) {
	return "data:image/png;base64," + content, nil
}

// fixedCodes replays a list of codes, repeating the last one.
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (f *fixedCodes) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.codes[0]
	if len(f.codes) > 1 {
		f.codes = f.codes[1:]
	}
	return c, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	meta  *memMeta
	blobs *memBlobs
	clock *testClock
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		meta:  newMemMeta(),
		blobs: newMemBlobs(),
		clock: &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts.Now = f.clock.Now
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.blobs, f.meta, stubQR{}, logger, opts)
	return f
}

func payloads(names ...string) []Payload {
	out := make([]Payload, 0, len(names))
	for _, n := range names {
		out = append(out, Payload{Filename: n, ContentType: "text/plain", Data: []byte("content of " + n)})
	}
	return out
}
