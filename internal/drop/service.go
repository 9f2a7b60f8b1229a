package drop

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by NewService to zero Options fields.
const (
	DefaultTTL            = time.Hour
	DefaultLinkTTL        = time.Hour
	DefaultGroupTTL       = 7 * 24 * time.Hour
	DefaultCodeAttempts   = 5
	DefaultBackendTimeout = 10 * time.Second
	DefaultUploadTimeout  = 5 * time.Minute
	DefaultSweepBatch     = 500
	DefaultPublicBaseURL  = "http://localhost:3000"
)

// Options tunes a Service.
type Options struct {
	TTL            time.Duration // retention of batch files
	LinkTTL        time.Duration // validity of signed download references
	GroupTTL       time.Duration // retention of group files
	CodeLength     int
	CodeAttempts   int
	BackendTimeout time.Duration // bound on every metadata call and blob delete/sign
	UploadTimeout  time.Duration // bound on one blob put
	SweepBatch     int
	PublicBaseURL  string

	Codes CodeSource       // defaults to a CodeGenerator of CodeLength
	Now   func() time.Time // defaults to time.Now
}

// Service runs the drop operations against injected stores.
type Service struct {
	blobs BlobStore
	meta  MetadataStore
	qr    QREncoder
	codes CodeSource
	log   *slog.Logger
	opts  Options
	now   func() time.Time
}

// NewService wires a Service. A nil blobs makes Upload fail with
// ErrMissingStorageConfig.
func NewService(blobs BlobStore, meta MetadataStore, qr QREncoder, logger *slog.Logger, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = DefaultLinkTTL
	}
	if opts.GroupTTL <= 0 {
		opts.GroupTTL = DefaultGroupTTL
	}
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = DefaultCodeAttempts
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = DefaultBackendTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = DefaultSweepBatch
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = DefaultPublicBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		blobs: blobs,
		meta:  meta,
		qr:    qr,
		codes: opts.Codes,
		log:   logger.With("component", "drop"),
		opts:  opts,
		now:   opts.Now,
	}
	if s.codes == nil {
		s.codes = NewCodeGenerator(opts.CodeLength)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ShareLink is the human-facing link encoded into the QR image.
func (s *Service) ShareLink(code string) string {
	return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/download/" + url.PathEscape(code)
}

// backend bounds a store call by BackendTimeout.
func (s *Service) backend(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.BackendTimeout)
}

// acquireCode draws codes until one is unused or attempts run out.
func (s *Service) acquireCode(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= s.opts.CodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return "", err
		}

		cctx, cancel := s.backend(ctx)
		exists, err := s.meta.CodeExists(cctx, code)
		cancel()
		if err != nil {
			return "", unavailable("metadata", "code_exists", err)
		}
		if !exists {
			return code, nil
		}
		s.log.Warn("share code collision", "attempt", attempt)
	}
	return "", ErrCodeExhausted
}

// saveRecord writes rec, retrying once through the fallback path. It reports
// whether either write succeeded.
func (s *Service) saveRecord(ctx context.Context, rec FileRecord) bool {
	cctx, cancel := s.backend(ctx)
	err := s.meta.InsertFile(cctx, rec)
	cancel()
	if err == nil {
		return true
	}
	s.log.Warn("metadata write failed, retrying",
		"code", rec.Code, "batch_index", rec.BatchIndex, "err", err)

	// The retry must run even when the request was cancelled meanwhile.
	fctx, cancel := s.backend(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.meta.InsertFileFallback(fctx, rec); err != nil {
		s.log.Error("metadata fallback write failed",
			"code", rec.Code, "batch_index", rec.BatchIndex, "storage_key", rec.StorageKey, "err", err)
		metadataGapsTotal.Inc()
		return false
	}
	return true
}

// discardBlobs removes blobs of an aborted upload.
func (s *Service) discardBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		dctx, cancel := s.backend(context.WithoutCancel(ctx))
		if err := s.blobs.Delete(dctx, key); err != nil {
			s.log.Warn("discard blob failed", "storage_key", key, "err", err)
		}
		cancel()
	}
}
