package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/store/memory"
)

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type stubSource struct {
	settled []domain.SettledMarket
}

func (s stubSource) ListSettledBefore(_ context.Context, before time.Time) ([]domain.SettledMarket, error) {
	var out []domain.SettledMarket
	for _, m := range s.settled {
		if m.Market.ResolvedAt.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func settledAt(b byte, at time.Time, positions int) domain.SettledMarket {
	yes := domain.OutcomeYes
	s := domain.SettledMarket{Market: domain.Market{
		Address:        domain.Address{b},
		Symbol:         fmt.Sprintf("M%d", b),
		Resolved:       true,
		WinningOutcome: &yes,
		ResolvedAt:     &at,
		TotalFunds:     uint64(b) * 1_000_000,
	}}
	for i := 0; i < positions; i++ {
		s.Positions = append(s.Positions, domain.Position{
			Address: domain.Address{b, byte(i)},
			Market:  domain.Address{b},
			Staked:  1_000_000,
		})
	}
	return s
}

func TestArchiveMarketsGroupsByMonth(t *testing.T) {
	ctx := context.Background()
	src := stubSource{settled: []domain.SettledMarket{
		settledAt(1, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), 2),
		settledAt(2, time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), 1),
		settledAt(3, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), 0),
		settledAt(4, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), 3),
	}}
	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	a := NewArchiver(src, blobs, blobs, audit)

	n, err := a.ArchiveMarkets(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Len(t, blobs.objects, 2)
	require.Zero(t, blobs.multipart)

	feb, err := a.ReadArchive(ctx, "2026-02")
	require.NoError(t, err)
	require.Len(t, feb, 2)
	require.Equal(t, "M2", feb[0].Market.Symbol)
	require.Len(t, feb[0].Positions, 1)
	require.Equal(t, domain.OutcomeYes, *feb[1].Market.WinningOutcome)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "archive.markets", entries[0].Event)

	// A later cutoff rewrites the months it covers.
	n, err = a.ArchiveMarkets(ctx, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.Len(t, blobs.objects, 3)

	entries, err = audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, ArchivePath("2026-03"), entries[0].Detail["path"])
	require.Equal(t, false, entries[0].Detail["replaced"])
}

func TestArchiveMarketsNothingSettled(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(stubSource{}, blobs, blobs, memory.NewAuditStore())
	n, err := a.ArchiveMarkets(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, blobs.objects)
}

func TestArchiveMarketsMultipartAboveThreshold(t *testing.T) {
	src := stubSource{settled: []domain.SettledMarket{
		settledAt(7, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 50),
	}}
	blobs := newMemBlobs()
	a := NewArchiver(src, blobs, blobs, memory.NewAuditStore())
	a.threshold = 1024

	n, err := a.ArchiveMarkets(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 1, blobs.multipart)
}

func TestReadArchiveMissing(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(stubSource{}, blobs, blobs, memory.NewAuditStore())

	_, err := a.ReadArchive(context.Background(), "1999-01")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = a.ReadArchive(context.Background(), "../secrets")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListArchivesSortsMonths(t *testing.T) {
	ctx := context.Background()
	src := stubSource{settled: []domain.SettledMarket{
		settledAt(1, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 1),
		settledAt(2, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC), 1),
	}}
	blobs := newMemBlobs()
	blobs.objects[archivePrefix+"README"] = []byte("not a month")
	a := NewArchiver(src, blobs, blobs, memory.NewAuditStore())

	_, err := a.ArchiveMarkets(ctx, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	months, err := a.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, months, 2)
	require.Equal(t, "2026-01", months[0].Month)
	require.Equal(t, ArchivePath("2026-03"), months[1].Path)
	require.Positive(t, months[1].Size)
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NoSuchKey{})))
	require.True(t, isNotFound(&types.NotFound{}))
	require.False(t, isNotFound(errors.New("boom")))
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
