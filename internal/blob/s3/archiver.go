package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

const (
	archivePrefix = "archive/markets/"
	jsonlType     = "application/x-ndjson"

	// DefaultMultipartThreshold switches uploads to multipart above 64 MiB.
	DefaultMultipartThreshold int64 = 64 * 1024 * 1024
)

// MarketArchiver implements domain.Archiver. Settled markets are grouped by
// the month they resolved in and each month is written as one JSONL object
// at archive/markets/YYYY-MM.jsonl, one domain.SettledMarket per line.
// Re-running with a later cutoff rewrites the affected months in full.
//
// Archived records are not removed from the ledger.
type MarketArchiver struct {
	source    domain.ArchiveSource
	writer    domain.BlobWriter
	reader    domain.BlobReader
	audit     domain.AuditStore
	threshold int64
}

// NewArchiver creates a MarketArchiver.
func NewArchiver(source domain.ArchiveSource, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *MarketArchiver {
	return &MarketArchiver{
		source:    source,
		writer:    writer,
		reader:    reader,
		audit:     audit,
		threshold: DefaultMultipartThreshold,
	}
}

// ArchiveMarkets uploads every market resolved before the cutoff and returns
// how many were written.
func (a *MarketArchiver) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	settled, err := a.source.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(settled) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.SettledMarket)
	for _, s := range settled {
		month := s.Market.ResolvedAt.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], s)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	slices.Sort(months)

	var count int64
	for _, month := range months {
		records := byMonth[month]
		buf, err := marshalJSONL(records)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive markets marshal %s: %w", month, err)
		}

		path := ArchivePath(month)
		replaced, err := a.reader.Exists(ctx, path)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive markets: %w", err)
		}
		if int64(len(buf)) >= a.threshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlType)
		}
		if err != nil {
			return count, fmt.Errorf("s3blob: archive markets upload %s: %w", path, err)
		}
		count += int64(len(records))

		if err := a.audit.Log(ctx, "archive.markets", map[string]any{
			"path":     path,
			"count":    len(records),
			"replaced": replaced,
			"before":   before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
		}
	}
	return count, nil
}

// ArchivePath is the object key for markets resolved in month ("2006-01").
func ArchivePath(month string) string {
	return archivePrefix + month + ".jsonl"
}

// ListArchives lists the archived months, oldest first. Objects under the
// archive prefix that are not month files are skipped.
func (a *MarketArchiver) ListArchives(ctx context.Context) ([]domain.ArchiveMonth, error) {
	infos, err := a.reader.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	months := make([]domain.ArchiveMonth, 0, len(infos))
	for _, info := range infos {
		month, ok := strings.CutSuffix(strings.TrimPrefix(info.Path, archivePrefix), ".jsonl")
		if !ok || !validMonth(month) {
			continue
		}
		months = append(months, domain.ArchiveMonth{
			Month:        month,
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	slices.SortFunc(months, func(x, y domain.ArchiveMonth) int {
		return strings.Compare(x.Month, y.Month)
	})
	return months, nil
}

// ReadArchive returns the settled markets archived for month ("2006-01").
func (a *MarketArchiver) ReadArchive(ctx context.Context, month string) ([]domain.SettledMarket, error) {
	if !validMonth(month) {
		return nil, fmt.Errorf("s3blob: archive month %q: %w", month, domain.ErrInvalidInput)
	}
	return decodeArchive(ctx, a.reader, ArchivePath(month))
}

func validMonth(month string) bool {
	_, err := time.Parse("2006-01", month)
	return err == nil
}

// decodeArchive reads the JSONL object at path.
func decodeArchive(ctx context.Context, reader domain.BlobReader, path string) ([]domain.SettledMarket, error) {
	body, err := reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.SettledMarket
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var s domain.SettledMarket
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("s3blob: decode %s line %d: %w", path, len(out)+1, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return out, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver       = (*MarketArchiver)(nil)
	_ domain.ArchiveBrowser = (*MarketArchiver)(nil)
)
