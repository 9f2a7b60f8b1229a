package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"file-drop/internal/drop"
	"file-drop/internal/metadata"
)

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func (m *mockBlobs) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(key), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

func (m *mockBlobs) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockBlobs) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// healthyBlobs accepts every call and signs keys under a fake host.
func healthyBlobs() *mockBlobs {
	b := &mockBlobs{}
	b.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	b.On("Sign", mock.Anything, mock.Anything, mock.Anything).
		Return(func(key string) string { return "https://blobs.test/" + key }, nil)
	b.On("Delete", mock.Anything, mock.Anything).Return(nil)
	b.On("Ping", mock.Anything).Return(nil)
	return b
}

// tickingClock advances one second per reading so records get distinct
// upload times.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type harness struct {
	srv   *Server
	svc   *drop.Service
	meta  *metadata.Memory
	blobs *mockBlobs
}

func newHarness(t *testing.T, blobs *mockBlobs, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meta := metadata.NewMemory()
	svc := drop.NewService(blobs, meta, nil, logger, drop.Options{Now: tickingClock()})
	sweeper := NewSweeper(svc, nil, SweeperConfig{Schedule: "@every 1h"}, logger)
	health := &HealthChecker{Metadata: meta, Blobs: blobs, Version: "test"}

	srv := New(cfg, svc, sweeper, health, logger)
	t.Cleanup(srv.limiter.stop)
	return &harness{srv: srv, svc: svc, meta: meta, blobs: blobs}
}

type part struct {
	field string
	name  string
	data  []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (h *harness) upload(t *testing.T, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	return h.do(t, req)
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func files(name string, size int) part {
	return part{field: "files", name: name, data: bytes.Repeat([]byte("x"), size)}
}

func TestUploadThenRedeemOnce(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{})

	rr := h.upload(t, files("a.txt", 10), files("b.txt", 20))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	up := decode[uploadResp](t, rr)
	assert.Len(t, up.Code, drop.DefaultCodeLength)
	assert.Equal(t, 2, up.FilesCount)
	assert.Equal(t, 2, up.FilesSavedToDB)
	assert.Equal(t, drop.DefaultPublicBaseURL+"/download/"+up.Code, up.DownloadURL)
	require.Len(t, up.Files, 2)
	assert.Equal(t, fileSummary{Filename: "a.txt", Size: 10, MimeType: "text/plain"}, up.Files[0])
	assert.Equal(t, "b.txt", up.Files[1].Filename)

	rr = h.get(t, "/file/"+up.Code)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	red := decode[redeemResp](t, rr)
	assert.Equal(t, 2, red.FilesCount)
	assert.Equal(t, int64(30), red.TotalSize)
	require.Len(t, red.Files, 2)
	assert.Equal(t, "a.txt", red.Files[0].Filename)
	assert.Equal(t, 0, red.Files[0].BatchIndex)
	assert.Equal(t, "b.txt", red.Files[1].Filename)
	assert.Equal(t, 1, red.Files[1].BatchIndex)
	assert.True(t, strings.HasPrefix(red.Files[0].DownloadURL, "https://blobs.test/uploads/"+up.Code))

	rr = h.get(t, "/file/"+up.Code)
	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Equal(t, "Link expired or already used", decode[errorResp](t, rr).Error)
}

func TestUploadRejectsBadRequests(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{MaxFiles: 2, MaxUploadBytes: 4096})

	t.Run("no files", func(t *testing.T) {
		rr := h.upload(t, part{field: "other", name: "a.txt", data: []byte("hi")})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No files provided", decode[errorResp](t, rr).Error)
	})

	t.Run("only empty files", func(t *testing.T) {
		rr := h.upload(t, files("empty.txt", 0))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("too many files", func(t *testing.T) {
		rr := h.upload(t, files("a", 1), files("b", 1), files("c", 1))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode[errorResp](t, rr).Error, "at most 2")
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, h.do(t, req).Code)
	})

	t.Run("body too large", func(t *testing.T) {
		rr := h.upload(t, files("big.bin", 64<<10))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	h.blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadBlobFailureIsBadGateway(t *testing.T) {
	blobs := &mockBlobs{}
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone"))
	blobs.On("Delete", mock.Anything, mock.Anything).Return(nil).Maybe()
	h := newHarness(t, blobs, Config{})

	rr := h.upload(t, files("a.txt", 10))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	body := decode[errorResp](t, rr)
	assert.Equal(t, "Upload failed", body.Error)
	assert.Equal(t, "could not store a.txt", body.Details)
}

func TestRedeemErrors(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{})

	rr := h.get(t, "/file/abcdef")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Invalid code or no files found", decode[errorResp](t, rr).Error)

	assert.Equal(t, http.StatusNotFound, h.get(t, "/file/not-a-code!").Code)
}

func TestRedeemAllSigningFailedKeepsCode(t *testing.T) {
	blobs := &mockBlobs{}
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	blobs.On("Sign", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("signer down")).Times(1)
	blobs.On("Sign", mock.Anything, mock.Anything, mock.Anything).Return("https://blobs.test/ok", nil)
	h := newHarness(t, blobs, Config{})

	up := decode[uploadResp](t, h.upload(t, files("a.txt", 10)))

	rr := h.get(t, "/file/"+up.Code)
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	rr = h.get(t, "/file/"+up.Code)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestRedeemRateLimited(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{RateLimit: 2, RateWindow: time.Hour})

	assert.Equal(t, http.StatusNotFound, h.get(t, "/file/aaaaaa").Code)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/file/bbbbbb").Code)

	rr := h.get(t, "/file/cccccc")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, h.get(t, "/health/live").Code)
}

func TestRedeemRateLimitIgnoresUntrustedForwarding(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{RateLimit: 2, RateWindow: time.Hour})

	limited := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/file/abcdef", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		if h.do(t, req).Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 8, limited)
}

func TestRedeemRateLimitBehindTrustedProxy(t *testing.T) {
	// httptest requests come from 192.0.2.1.
	h := newHarness(t, healthyBlobs(), Config{RateLimit: 2, RateWindow: time.Hour, TrustedProxies: []string{"192.0.2.0/24"}})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/file/abcdef", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		assert.Equal(t, http.StatusNotFound, h.do(t, req).Code)
	}

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/file/abcdef", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		rr := h.do(t, req)
		if i < 2 {
			assert.Equal(t, http.StatusNotFound, rr.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		}
	}
}

func TestGroups(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{})

	req := httptest.NewRequest(http.MethodPost, "/group/create", strings.NewReader(`{"name":"  Team docs "}`))
	req.Header.Set("Content-Type", "application/json")
	rr := h.do(t, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	g := decode[groupResp](t, rr)
	assert.Equal(t, "Team docs", g.Name)
	require.Len(t, g.GroupID, 6)

	groupUpload := func(name string) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, part{field: "file", name: name, data: []byte("content of " + name)})
		req := httptest.NewRequest(http.MethodPost, "/group/"+g.GroupID+"/upload", body)
		req.Header.Set("Content-Type", ct)
		return h.do(t, req)
	}

	rr = groupUpload("first.txt")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[groupUploadResp](t, rr)
	assert.Equal(t, "File uploaded successfully", first.Message)
	assert.Equal(t, "first.txt", first.File.Filename)
	assert.NotEmpty(t, first.File.Code)

	require.Equal(t, http.StatusOK, groupUpload("second.txt").Code)

	for _, path := range []string{"/group/" + g.GroupID, "/group/" + g.GroupID + "/files"} {
		rr = h.get(t, path)
		require.Equal(t, http.StatusOK, rr.Code)
		listing := decode[groupListingResp](t, rr)
		assert.Equal(t, g.GroupID, listing.Group.GroupID)
		require.Len(t, listing.Files, 2)
		assert.Equal(t, "second.txt", listing.Files[0].Filename)
		assert.Equal(t, "first.txt", listing.Files[1].Filename)
	}

	// Group codes are listed, not consumed.
	assert.Equal(t, http.StatusOK, h.get(t, "/file/"+first.File.Code).Code)
	assert.Equal(t, http.StatusOK, h.get(t, "/file/"+first.File.Code).Code)
}

func TestGroupErrors(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{})

	rr := h.get(t, "/group/nope00")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Group not found", decode[errorResp](t, rr).Error)

	req := httptest.NewRequest(http.MethodPost, "/group/create", strings.NewReader(`{"name":"   "}`))
	assert.Equal(t, http.StatusBadRequest, h.do(t, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/group/create", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, h.do(t, req).Code)

	body, ct := multipartBody(t, part{field: "file", name: "a.txt", data: []byte("a")})
	req = httptest.NewRequest(http.MethodPost, "/group/nope00/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusNotFound, h.do(t, req).Code)
}

func TestCleanupSweepsConsumedBatch(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{})

	up := decode[uploadResp](t, h.upload(t, files("a.txt", 10), files("b.txt", 20)))
	require.Equal(t, http.StatusOK, h.get(t, "/file/"+up.Code).Code)

	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/cleanup", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decode[CleanupReport](t, rr)
	assert.Equal(t, drop.SweepReport{Scanned: 2, Deleted: 2}, rep.Expired)
	assert.Nil(t, rep.Groups)

	h.blobs.AssertNumberOfCalls(t, "Delete", 2)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/file/"+up.Code).Code)
}

func TestCleanupWithoutSweeper(t *testing.T) {
	srv := New(Config{}, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(srv.limiter.stop)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cleanup", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newHarness(t, healthyBlobs(), Config{})
		rr := h.get(t, "/health")
		require.Equal(t, http.StatusOK, rr.Code)
		health := decode[Health](t, rr)
		assert.Equal(t, HealthStatusHealthy, health.Status)
		assert.Equal(t, ComponentStatusUp, health.Components["metadata"].Status)
		assert.Equal(t, ComponentStatusUp, health.Components["blob_store"].Status)
	})

	t.Run("blob store down", func(t *testing.T) {
		blobs := &mockBlobs{}
		blobs.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		h := newHarness(t, blobs, Config{})
		rr := h.get(t, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, HealthStatusUnhealthy, decode[Health](t, rr).Status)
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		h := newHarness(t, healthyBlobs(), Config{})
		h.srv.health.Redis = pingFunc(func(context.Context) error { return errors.New("no redis") })
		rr := h.get(t, "/health")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, HealthStatusDegraded, decode[Health](t, rr).Status)
	})

	t.Run("live and ready", func(t *testing.T) {
		h := newHarness(t, healthyBlobs(), Config{})
		assert.Equal(t, http.StatusOK, h.get(t, "/health/live").Code)
		assert.Equal(t, http.StatusOK, h.get(t, "/health/ready").Code)
	})
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestMiddleware(t *testing.T) {
	h := newHarness(t, healthyBlobs(), Config{})

	rr := h.get(t, "/health/live")
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-Id", "req-123")
	assert.Equal(t, "req-123", h.do(t, req).Header().Get("X-Request-Id"))

	rr = h.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Not found", decode[errorResp](t, rr).Error)

	rr = h.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sfd_http_requests_total")
}
