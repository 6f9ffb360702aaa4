package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

const settlementPrefix = "settlements/"

// SettlementArchiver implements domain.Archiver. Each confirmed market is
// written once as settlements/<market id>.json and never overwritten.
type SettlementArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates a SettlementArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *SettlementArchiver {
	return &SettlementArchiver{writer: writer, reader: reader}
}

// SettlementPath returns the object path of a market's settlement record.
func SettlementPath(marketID string) string {
	return settlementPrefix + marketID + ".json"
}

// ArchiveSettlement uploads rec and returns its path. An existing record is
// left untouched.
func (a *SettlementArchiver) ArchiveSettlement(ctx context.Context, rec domain.SettlementRecord) (string, error) {
	p := SettlementPath(rec.Market.ID)
	exists, err := a.reader.Exists(ctx, p)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", rec.Market.ID, err)
	}
	if exists {
		return p, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return "", fmt.Errorf("s3blob: marshal settlement %s: %w", rec.Market.ID, err)
	}
	if err := a.writer.Put(ctx, p, &buf, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", rec.Market.ID, err)
	}
	return p, nil
}

// FetchSettlement reads back an archived record or returns
// domain.ErrNotFound.
func (a *SettlementArchiver) FetchSettlement(ctx context.Context, marketID string) (domain.SettlementRecord, error) {
	body, err := a.reader.Get(ctx, SettlementPath(marketID))
	if err != nil {
		return domain.SettlementRecord{}, err
	}
	defer body.Close()

	var rec domain.SettlementRecord
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("s3blob: decode settlement %s: %w", marketID, err)
	}
	return rec, nil
}

// ListSettlements returns the ids of archived markets in lexical order.
func (a *SettlementArchiver) ListSettlements(ctx context.Context) ([]string, error) {
	infos, err := a.reader.List(ctx, settlementPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		name := path.Base(info.Path)
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ domain.Archiver = (*SettlementArchiver)(nil)
