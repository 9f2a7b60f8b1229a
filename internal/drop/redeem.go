package drop

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Redeem exchanges a share code for signed download references.
//
// A batch is claimed atomically before any reference is signed, so two
// concurrent redemptions of the same code never both succeed. If signing
// fails for every file the claim is released and the code stays usable.
// Codes of group files are served without being consumed.
func (s *Service) Redeem(ctx context.Context, code string) (*Redemption, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !ValidCode(code) {
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	fctx, cancel := s.backend(ctx)
	recs, err := s.meta.FindByCode(fctx, code)
	cancel()
	if err != nil {
		redemptionsTotal.WithLabelValues("error").Inc()
		return nil, unavailable("metadata", "find_by_code", err)
	}
	if len(recs) == 0 {
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	now := s.now()
	if recs[0].Grouped() {
		return s.serveGroupFile(ctx, recs, now)
	}
	for _, r := range recs {
		if r.IsDownloaded || r.Expired(now) {
			redemptionsTotal.WithLabelValues("gone").Inc()
			return nil, ErrGone
		}
	}

	cctx, cancel := s.backend(ctx)
	claimed, err := s.meta.ClaimBatch(cctx, code, now)
	cancel()
	switch {
	case errors.Is(err, ErrGone):
		redemptionsTotal.WithLabelValues("gone").Inc()
		return nil, ErrGone
	case errors.Is(err, ErrNotFound):
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	case err != nil:
		redemptionsTotal.WithLabelValues("error").Inc()
		return nil, unavailable("metadata", "claim_batch", err)
	}

	red := s.signAll(ctx, claimed)
	if len(red.Files) == 0 {
		rctx, cancel := s.backend(context.WithoutCancel(ctx))
		if err := s.meta.ReleaseBatch(rctx, code); err != nil {
			s.log.Error("release claim failed", "code", code, "err", err)
		}
		cancel()
		redemptionsTotal.WithLabelValues("links_failed").Inc()
		return nil, ErrAllLinksFailed
	}

	redemptionsTotal.WithLabelValues("ok").Inc()
	s.log.Info("batch redeemed", "code", code, "files", red.FilesCount, "signed", len(red.Files))
	return red, nil
}

func (s *Service) serveGroupFile(ctx context.Context, recs []FileRecord, now time.Time) (*Redemption, error) {
	for _, r := range recs {
		if r.Expired(now) {
			redemptionsTotal.WithLabelValues("gone").Inc()
			return nil, ErrGone
		}
	}
	red := s.signAll(ctx, recs)
	if len(red.Files) == 0 {
		redemptionsTotal.WithLabelValues("links_failed").Inc()
		return nil, ErrAllLinksFailed
	}
	redemptionsTotal.WithLabelValues("group").Inc()
	return red, nil
}

// signAll signs each record in order, skipping the ones that fail.
// FilesCount and TotalSize cover every record, signed or not.
func (s *Service) signAll(ctx context.Context, recs []FileRecord) *Redemption {
	red := &Redemption{
		Files:      make([]SignedFile, 0, len(recs)),
		FilesCount: len(recs),
	}
	for _, r := range recs {
		red.TotalSize += r.FileSize

		sctx, cancel := s.backend(ctx)
		ref, err := s.blobs.Sign(sctx, r.StorageKey, s.opts.LinkTTL)
		cancel()
		if err != nil {
			s.log.Warn("sign failed", "code", r.Code, "batch_index", r.BatchIndex, "err", err)
			continue
		}
		red.Files = append(red.Files, SignedFile{
			Filename:    r.Filename,
			DownloadURL: ref,
			MimeType:    r.MimeType,
			FileSize:    r.FileSize,
			BatchIndex:  r.BatchIndex,
		})
	}
	return red
}
