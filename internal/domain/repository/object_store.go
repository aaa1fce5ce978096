package repository

import (
	"context"
	"io"

	"github.com/cloudlens/cost-ingest-go/internal/domain/entity"
)

// ObjectStoreFactory binds resolved account credentials to an object-store
// client for that account's export destination.
type ObjectStoreFactory interface {
	ForCredentials(creds *entity.Credentials) ObjectStore
}

// ObjectStore reads the export destination. Listing is recursive under the
// given prefix.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string) ([]entity.ObjectInfo, error)
	// Download returns the object stream and its size. The caller closes
	// the reader.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// LineItemReader yields decoded export rows one at a time. It is a lazy,
// finite, non-restartable sequence; Next returns io.EOF when exhausted.
type LineItemReader interface {
	Next() (entity.LineItem, error)
	Close() error
}

// ExportDecoder turns one columnar export file stream into line items
// without materializing the whole row set in memory.
type ExportDecoder interface {
	Open(ctx context.Context, r io.Reader, size int64) (LineItemReader, error)
}

// ExportProvisioner creates and tears down the cloud resources behind a bulk
// export. Provision is idempotent against partial prior runs; Teardown
// preserves the destination bucket and collects per-step results.
type ExportProvisioner interface {
	Provision(ctx context.Context, creds *entity.Credentials, spec entity.ExportSpec) error
	Teardown(ctx context.Context, creds *entity.Credentials, cfg entity.ExportConfig) entity.TeardownReport
}

// Notifier emits a user notification through the external alerting system.
type Notifier interface {
	Notify(ctx context.Context, userID uint, kind, message string) error
}

// Notification kinds understood by the alerting system.
const (
	NotifyReconnectRequired = "reconnect-required"
	NotifyExportDisabled    = "export-disabled"
)

// CostCache invalidates downstream caches keyed on a user's cost data.
type CostCache interface {
	InvalidateUser(ctx context.Context, userID uint)
}
