package drop

import (
	"context"
	"time"
)

// Sweep removes consumed and expired batch files: blob first, then record.
// A file whose blob delete fails keeps its record and is retried by the next
// run. Sweep is safe to run repeatedly and concurrently with itself.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	fctx, cancel := s.backend(ctx)
	recs, err := s.meta.FindSweepable(fctx, s.now(), s.opts.SweepBatch)
	cancel()
	if err != nil {
		return SweepReport{}, unavailable("metadata", "find_sweepable", err)
	}
	return s.purge(ctx, recs), nil
}

// SweepGroupFiles removes group files whose retention elapsed.
func (s *Service) SweepGroupFiles(ctx context.Context) (SweepReport, error) {
	fctx, cancel := s.backend(ctx)
	recs, err := s.meta.FindExpiredGroupFiles(fctx, s.now(), s.opts.SweepBatch)
	cancel()
	if err != nil {
		return SweepReport{}, unavailable("metadata", "find_expired_group_files", err)
	}
	return s.purge(ctx, recs), nil
}

func (s *Service) purge(ctx context.Context, recs []FileRecord) SweepReport {
	start := time.Now()
	rep := SweepReport{Scanned: len(recs)}

	for _, r := range recs {
		if ctx.Err() != nil {
			rep.Failed += len(recs) - rep.Deleted - rep.Failed
			break
		}

		dctx, cancel := s.backend(ctx)
		err := s.blobs.Delete(dctx, r.StorageKey)
		cancel()
		if err != nil {
			s.log.Warn("sweep: blob delete failed", "storage_key", r.StorageKey, "err", err)
			rep.Failed++
			continue
		}

		dctx, cancel = s.backend(ctx)
		err = s.meta.DeleteFile(dctx, r.ID)
		cancel()
		if err != nil {
			s.log.Warn("sweep: record delete failed", "id", r.ID, "code", r.Code, "err", err)
			rep.Failed++
			continue
		}
		rep.Deleted++
	}

	sweepDeletedTotal.Add(float64(rep.Deleted))
	sweepFailuresTotal.Add(float64(rep.Failed))
	if rep.Scanned > 0 {
		s.log.Info("sweep finished",
			"scanned", rep.Scanned, "deleted", rep.Deleted, "failed", rep.Failed,
			"duration", time.Since(start))
	}
	return rep
}
