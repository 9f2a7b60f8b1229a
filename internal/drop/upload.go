package drop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type stagedFile struct {
	index   int
	payload Payload
	key     string
}

// Upload stores a batch of payloads under one freshly minted share code.
//
// Blob writes run concurrently and the batch is aborted if any of them fails;
// in that case no metadata is written. Metadata writes also run concurrently
// and are best effort: a file whose record could not be written after one
// fallback attempt stays in the blob store and is reflected in FilesSaved.
func (s *Service) Upload(ctx context.Context, payloads []Payload) (*UploadResult, error) {
	if len(payloads) == 0 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrNoFiles
	}
	if s.blobs == nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, ErrMissingStorageConfig
	}

	var staged []stagedFile
	for i, p := range payloads {
		if len(p.Data) == 0 {
			continue
		}
		staged = append(staged, stagedFile{index: i, payload: p})
	}
	if len(staged) == 0 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrNoFiles
	}

	code, err := s.acquireCode(ctx)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	started := s.now()
	for i := range staged {
		staged[i].key = batchKey(code, started, staged[i].index, staged[i].payload.Filename)
	}

	if err := s.putAll(ctx, staged); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		s.log.Error("upload aborted", "code", code, "files", len(staged), "err", err)
		return nil, err
	}

	expiresAt := started.Add(s.opts.TTL)
	written := s.persistAll(ctx, code, expiresAt, started, staged)

	saved := written
	rctx, cancel := s.backend(ctx)
	recs, err := s.meta.FindByCode(rctx, code)
	cancel()
	if err != nil {
		s.log.Warn("re-read after upload failed, reporting local count", "code", code, "err", err)
	} else {
		saved = len(recs)
	}

	link := s.ShareLink(code)
	var qrCode string
	if s.qr != nil {
		if qrCode, err = s.qr.Encode(link); err != nil {
			s.log.Warn("qr encode failed", "code", code, "err", err)
			qrCode = ""
		}
	}

	res := &UploadResult{
		Code:        code,
		QRCode:      qrCode,
		DownloadURL: link,
		FilesCount:  len(staged),
		FilesSaved:  saved,
		Files:       make([]FileSummary, 0, len(staged)),
	}
	var total int64
	for _, f := range staged {
		size := payloadSize(f.payload)
		total += size
		res.Files = append(res.Files, FileSummary{
			Filename: f.payload.Filename,
			Size:     size,
			MimeType: f.payload.ContentType,
		})
	}

	uploadBytesTotal.Add(float64(total))
	if saved < len(staged) {
		uploadsTotal.WithLabelValues("partial").Inc()
	} else {
		uploadsTotal.WithLabelValues("ok").Inc()
	}
	s.log.Info("upload complete",
		"code", code, "files", len(staged), "saved", saved, "bytes", total)
	return res, nil
}

// putAll writes every staged blob concurrently and waits for all of them.
// On failure the blobs that did land are discarded.
func (s *Service) putAll(ctx context.Context, staged []stagedFile) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		done []string
	)
	for _, f := range staged {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
			defer cancel()
			if err := s.blobs.Put(pctx, f.key, f.payload.Data, f.payload.ContentType); err != nil {
				return &BlobUploadError{Filename: f.payload.Filename, Index: f.index, Err: err}
			}
			mu.Lock()
			done = append(done, f.key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discardBlobs(ctx, done)
		return err
	}
	return nil
}

// persistAll writes one record per staged file and returns how many writes
// succeeded.
func (s *Service) persistAll(ctx context.Context, code string, expiresAt, uploadedAt time.Time, staged []stagedFile) int {
	var (
		wg    sync.WaitGroup
		saved atomic.Int32
	)
	for _, f := range staged {
		rec := FileRecord{
			ID:         uuid.NewString(),
			Code:       code,
			BatchIndex: f.index,
			StorageKey: f.key,
			Filename:   f.payload.Filename,
			MimeType:   f.payload.ContentType,
			FileSize:   payloadSize(f.payload),
			ExpiresAt:  expiresAt,
			UploadedAt: uploadedAt,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.saveRecord(ctx, rec) {
				saved.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(saved.Load())
}

func payloadSize(p Payload) int64 {
	if p.Size > 0 {
		return p.Size
	}
	return int64(len(p.Data))
}

