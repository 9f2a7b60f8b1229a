package drop

import (
	"context"
	"time"
)

// BlobStore stores opaque payloads under caller-chosen keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Sign returns a reference granting read access to key for ttl.
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MetadataStore persists FileRecords and Groups.
//
// ClaimBatch is the only operation that mutates the consumption state and
// must be atomic: of any number of concurrent calls for the same code at most
// one returns records, the others return ErrGone.
type MetadataStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	InsertFile(ctx context.Context, rec FileRecord) error
	// InsertFileFallback is the alternate write path tried once when
	// InsertFile fails. It writes every column explicitly.
	InsertFileFallback(ctx context.Context, rec FileRecord) error
	// FindByCode returns the records of a code ordered by BatchIndex.
	FindByCode(ctx context.Context, code string) ([]FileRecord, error)
	// ClaimBatch marks every non-group record of code as downloaded if none
	// is downloaded or expired at now. It returns the claimed records ordered
	// by BatchIndex, ErrNotFound or ErrGone.
	ClaimBatch(ctx context.Context, code string, now time.Time) ([]FileRecord, error)
	// ReleaseBatch clears the downloaded flag of a claimed batch.
	ReleaseBatch(ctx context.Context, code string) error
	// FindSweepable returns non-group records that are downloaded or expired.
	FindSweepable(ctx context.Context, now time.Time, limit int) ([]FileRecord, error)
	// FindExpiredGroupFiles returns group records whose retention elapsed.
	FindExpiredGroupFiles(ctx context.Context, now time.Time, limit int) ([]FileRecord, error)
	// DeleteFile removes a record. Deleting a missing record is not an error.
	DeleteFile(ctx context.Context, id string) error
	CreateGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, groupID string) (Group, error)
	// FindByGroup returns a group's records, newest first.
	FindByGroup(ctx context.Context, groupID string) ([]FileRecord, error)
}

// QREncoder renders a link as an image data URL.
type QREncoder interface {
	Encode(content string) (string, error)
}

// CodeSource produces candidate share codes.
type CodeSource interface {
	Generate() (string, error)
}
