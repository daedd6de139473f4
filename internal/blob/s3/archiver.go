package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftlabs/marginbot/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the encoded batch size past which the archiver
// switches to the multipart uploader.
const multipartThreshold = 8 * 1024 * 1024

// LedgerArchiver copies aged ledger entries to S3 cold storage as JSONL.
// The primary store keeps its rows: replay correctness depends on the full
// ledger, so archival is a backup, never a move.
type LedgerArchiver struct {
	writer    *Writer
	store     domain.LedgerStore
	retention time.Duration
	logger    *slog.Logger
}

// NewLedgerArchiver creates a LedgerArchiver. retention is how far back the
// cutoff sits from now on each run.
func NewLedgerArchiver(writer *Writer, store domain.LedgerStore, retention time.Duration, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		writer:    writer,
		store:     store,
		retention: retention,
		logger:    logger.With(slog.String("component", "ledger_archiver")),
	}
}

// Run executes a single archive pass: every entry recorded before the cutoff
// is serialized to JSONL and uploaded, partitioned by month. Returns the
// number of entries archived.
func (a *LedgerArchiver) Run(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	entries, err := a.store.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger marshal: %w", err)
	}

	path := archivePath("ledger", cutoff)
	var upErr error
	if int64(len(buf)) >= multipartThreshold {
		upErr = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), contentTypeJSONL, minPartSize)
	} else {
		upErr = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if upErr != nil {
		return 0, fmt.Errorf("s3blob: archive ledger upload: %w", upErr)
	}

	count := int64(len(entries))
	a.logger.Info("ledger archive uploaded",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("cutoff", cutoff),
	)
	return count, nil
}

// RunLoop runs archive passes on a fixed interval until ctx is cancelled.
func (a *LedgerArchiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.Info("ledger archiver started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("ledger archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
