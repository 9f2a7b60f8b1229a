package drop

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// CreateGroup registers a new group under a random id.
func (s *Service) CreateGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	for attempt := 1; attempt <= s.opts.CodeAttempts; attempt++ {
		id, err := NewGroupID()
		if err != nil {
			return Group{}, err
		}
		g := Group{GroupID: id, Name: name, CreatedAt: s.now()}

		cctx, cancel := s.backend(ctx)
		err = s.meta.CreateGroup(cctx, g)
		cancel()
		switch {
		case err == nil:
			s.log.Info("group created", "group_id", id)
			return g, nil
		case errors.Is(err, ErrGroupExists):
			continue
		default:
			return Group{}, unavailable("metadata", "create_group", err)
		}
	}
	return Group{}, ErrCodeExhausted
}

// GetGroup returns a group with its files, newest first.
func (s *Service) GetGroup(ctx context.Context, groupID string) (Group, []FileRecord, error) {
	g, err := s.lookupGroup(ctx, groupID)
	if err != nil {
		return Group{}, nil, err
	}

	fctx, cancel := s.backend(ctx)
	recs, err := s.meta.FindByGroup(fctx, g.GroupID)
	cancel()
	if err != nil {
		return Group{}, nil, unavailable("metadata", "find_by_group", err)
	}
	return g, recs, nil
}

// UploadToGroup stores one payload in a group. The file gets its own share
// code and the group retention instead of the batch TTL.
func (s *Service) UploadToGroup(ctx context.Context, groupID string, p Payload) (FileRecord, error) {
	g, err := s.lookupGroup(ctx, groupID)
	if err != nil {
		return FileRecord{}, err
	}
	if len(p.Data) == 0 {
		return FileRecord{}, ErrNoFiles
	}
	if s.blobs == nil {
		return FileRecord{}, ErrMissingStorageConfig
	}

	code, err := s.acquireCode(ctx)
	if err != nil {
		return FileRecord{}, err
	}

	now := s.now()
	rec := FileRecord{
		ID:         uuid.NewString(),
		Code:       code,
		StorageKey: groupKey(g.GroupID, now, p.Filename),
		Filename:   p.Filename,
		MimeType:   p.ContentType,
		FileSize:   payloadSize(p),
		ExpiresAt:  now.Add(s.opts.GroupTTL),
		GroupID:    g.GroupID,
		UploadedAt: now,
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	err = s.blobs.Put(pctx, rec.StorageKey, p.Data, p.ContentType)
	cancel()
	if err != nil {
		return FileRecord{}, &BlobUploadError{Filename: p.Filename, Err: err}
	}

	if !s.saveRecord(ctx, rec) {
		s.discardBlobs(ctx, []string{rec.StorageKey})
		return FileRecord{}, unavailable("metadata", "insert_file", errors.New("group file record not written"))
	}
	uploadBytesTotal.Add(float64(rec.FileSize))
	s.log.Info("group upload complete", "group_id", g.GroupID, "code", code, "bytes", rec.FileSize)
	return rec, nil
}

func (s *Service) lookupGroup(ctx context.Context, groupID string) (Group, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Group{}, ErrGroupNotFound
	}
	gctx, cancel := s.backend(ctx)
	g, err := s.meta.GetGroup(gctx, groupID)
	cancel()
	switch {
	case errors.Is(err, ErrGroupNotFound):
		return Group{}, ErrGroupNotFound
	case err != nil:
		return Group{}, unavailable("metadata", "get_group", err)
	}
	return g, nil
}
