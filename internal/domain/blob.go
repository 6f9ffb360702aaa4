package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementRecord is the immutable summary of a confirmed market written
// to cold storage.
type SettlementRecord struct {
	Market        Market    `json:"market"`
	Bets          []Bet     `json:"bets"`
	Fee           uint64    `json:"fee"`
	Distributable uint64    `json:"distributable"`
	WinningStake  uint64    `json:"winning_stake"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// Archiver stores and retrieves settlement records.
type Archiver interface {
	ArchiveSettlement(ctx context.Context, rec SettlementRecord) (string, error)
	FetchSettlement(ctx context.Context, marketID string) (SettlementRecord, error)
	ListSettlements(ctx context.Context) ([]string, error)
}
