package metadata

import (
	"context"

	"file-drop/internal/drop"
)

// Store is a metadata backend that can report its health.
type Store interface {
	drop.MetadataStore
	Ping(ctx context.Context) error
}
