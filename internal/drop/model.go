package drop

import "time"

// FileRecord is the metadata row persisted for one uploaded blob.
type FileRecord struct {
	ID           string
	Code         string
	BatchIndex   int
	StorageKey   string
	Filename     string
	MimeType     string
	FileSize     int64
	IsDownloaded bool
	ExpiresAt    time.Time
	GroupID      string // empty unless the file belongs to a Group
	UploadedAt   time.Time
}

// Grouped reports whether the record belongs to a persistent Group.
func (r FileRecord) Grouped() bool {
	return r.GroupID != ""
}

// Expired reports whether the record's retention window has elapsed at now.
func (r FileRecord) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Group is a persistent collection of files that are listed rather than
// redeemed.
type Group struct {
	GroupID   string
	Name      string
	CreatedAt time.Time
}

// Payload is one in-memory file handed to Upload.
type Payload struct {
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

// FileSummary describes an accepted payload in an upload result.
type FileSummary struct {
	Filename string
	Size     int64
	MimeType string
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Code        string
	QRCode      string
	DownloadURL string
	// FilesCount is the number of non-empty payloads stored in the blob store.
	FilesCount int
	// FilesSaved is the number of metadata records found for Code after the
	// writes settled. It can be lower than FilesCount.
	FilesSaved int
	Files      []FileSummary
}

// SignedFile is one downloadable file of a redeemed batch.
type SignedFile struct {
	Filename    string
	DownloadURL string
	MimeType    string
	FileSize    int64
	BatchIndex  int
}

// Redemption is returned by Redeem.
type Redemption struct {
	Files      []SignedFile
	FilesCount int
	TotalSize  int64
}

// SweepReport summarises one sweep run.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}
