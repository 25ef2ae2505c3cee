package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiveSource is the read side the archiver needs. domain.Repository
// satisfies it.
type ArchiveSource interface {
	ListLots(ctx context.Context, auctionID string) ([]domain.Lot, error)
	ListBids(ctx context.Context, lotID string) ([]domain.Bid, error)
	ListOrdersByAuction(ctx context.Context, auctionID string) ([]domain.Order, error)
}

// archivedLot carries the reserve, which domain.Lot hides from JSON.
type archivedLot struct {
	domain.Lot
	ReserveCents *int64 `json:"reserve_cents,omitempty"`
}

// Archiver writes an ended auction's lots, bids and orders to object
// storage as JSONL, one object per kind under
// archive/auctions/<auctionId>/. Records are copied, never deleted from the
// primary store.
type Archiver struct {
	writer            domain.BlobWriter
	source            ArchiveSource
	audit             domain.AuditStore
	multipartAbove    int64
	multipartPartSize int64
	logger            *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, source ArchiveSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:            writer,
		source:            source,
		audit:             audit,
		multipartAbove:    minPartSize,
		multipartPartSize: minPartSize,
		logger:            logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePath returns the object key for one record kind of an auction.
func ArchivePath(auctionID, kind string) string {
	return path.Join("archive", "auctions", auctionID, kind+".jsonl")
}

// ArchiveAuction uploads the auction's records and returns how many were
// written. Re-running it overwrites the same objects.
func (a *Archiver) ArchiveAuction(ctx context.Context, auctionID string) (int64, error) {
	lots, err := a.source.ListLots(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s lots: %w", auctionID, err)
	}
	archived := make([]archivedLot, 0, len(lots))
	var bids []domain.Bid
	for _, l := range lots {
		archived = append(archived, archivedLot{Lot: l, ReserveCents: l.ReserveCents})
		lb, err := a.source.ListBids(ctx, l.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s bids for lot %s: %w", auctionID, l.ID, err)
		}
		bids = append(bids, lb...)
	}
	orders, err := a.source.ListOrdersByAuction(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s orders: %w", auctionID, err)
	}

	var total int64
	for _, part := range []struct {
		kind    string
		records any
		count   int
	}{
		{"lots", archived, len(archived)},
		{"bids", bids, len(bids)},
		{"orders", orders, len(orders)},
	} {
		if part.count == 0 {
			continue
		}
		buf, err := marshalJSONL(part.records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s %s: %w", auctionID, part.kind, err)
		}
		if err := a.upload(ctx, ArchivePath(auctionID, part.kind), buf); err != nil {
			return total, err
		}
		total += int64(part.count)
	}

	a.logger.InfoContext(ctx, "auction archived",
		slog.String("auction_id", auctionID),
		slog.Int("lots", len(lots)),
		slog.Int("bids", len(bids)),
		slog.Int("orders", len(orders)),
	)
	if a.audit != nil {
		err := a.audit.Log(ctx, "auction_archived", map[string]any{
			"auction_id": auctionID,
			"records":    total,
			"prefix":     path.Join("archive", "auctions", auctionID),
		})
		if err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return total, nil
}

func (a *Archiver) upload(ctx context.Context, key string, buf []byte) error {
	if int64(len(buf)) > a.multipartAbove {
		if err := a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), a.multipartPartSize); err != nil {
			return fmt.Errorf("s3blob: archive upload %s: %w", key, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlContentType); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", key, err)
	}
	return nil
}

// marshalJSONL encodes a slice as one JSON document per line.
func marshalJSONL(records any) ([]byte, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, item := range items {
		buf.Write(item)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
