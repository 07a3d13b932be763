package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is the listing entry of one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter stores archive objects. PutMultipart is for objects too large
// for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archive objects back. Get on a missing path wraps
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies markets resolved before a cutoff to cold storage and
// returns how many it wrote.
type Archiver interface {
	ArchiveMarkets(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveMonth summarises the archive object of one resolution month.
type ArchiveMonth struct {
	Month        string    `json:"month"` // "2006-01"
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ArchiveBrowser serves archived settlements after they leave the hot
// ledger's working set.
type ArchiveBrowser interface {
	ListArchives(ctx context.Context) ([]ArchiveMonth, error)
	ReadArchive(ctx context.Context, month string) ([]SettledMarket, error)
}
