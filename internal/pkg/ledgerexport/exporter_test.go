package ledgerexport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StreamPass/app/models"
)

type fakeSource struct {
	from, to time.Time
	entries  []models.LedgerEntry
	err      error
}

func (f *fakeSource) EntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	f.from, f.to = from, to
	return f.entries, f.err
}

type memoryUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memoryUploader) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	return nil
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "ledger"}
	day := time.Date(2026, 2, 3, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "ledger/2026/02/03.jsonl", cfg.ObjectKey(day))
	assert.Equal(t, "ledger/2026/02/03.jsonl", (&Config{}).ObjectKey(day))
	assert.Equal(t, "archive/2026/12/31.jsonl", (&Config{Prefix: "archive"}).ObjectKey(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestExportDay(t *testing.T) {
	src := &fakeSource{entries: []models.LedgerEntry{
		{ID: "e1", AccountID: "fan", Amount: -500, Kind: models.LedgerKindPurchase, IdempotencyKey: "k1", BalanceAfter: 500},
		{ID: "e2", AccountID: "perf", Amount: 400, Kind: models.LedgerKindEarning, IdempotencyKey: "k1:earning", BalanceAfter: 400},
	}}
	up := &memoryUploader{}
	exp := NewExporter(src, up, &Config{Prefix: "ledger"})

	res, err := exp.ExportDay(context.Background(), time.Date(2026, 5, 6, 17, 4, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC), src.from)
	assert.Equal(t, time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC), src.to)
	assert.Equal(t, "ledger/2026/05/06.jsonl", res.ObjectKey)
	assert.Equal(t, 2, res.Entries)

	body := up.objects[res.ObjectKey]
	assert.Equal(t, len(body), res.Bytes)
	assert.Equal(t, "application/x-ndjson", up.types[res.ObjectKey])

	var lines []models.LedgerEntry
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var e models.LedgerEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "e1", lines[0].ID)
	assert.Equal(t, int64(-500), lines[0].Amount)
	assert.Equal(t, "k1:earning", lines[1].IdempotencyKey)
}

func TestExportDay_EmptyDayStillWritesObject(t *testing.T) {
	up := &memoryUploader{}
	res, err := NewExporter(&fakeSource{}, up, &Config{}).ExportDay(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, res.Entries)
	assert.Contains(t, up.objects, "ledger/2026/01/01.jsonl")
}

func TestExportDay_Errors(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewExporter(&fakeSource{err: errors.New("db down")}, &memoryUploader{}, &Config{}).ExportDay(context.Background(), day)
	assert.EqualError(t, err, "db down")

	_, err = NewExporter(&fakeSource{}, &memoryUploader{err: errors.New("s3 down")}, &Config{}).ExportDay(context.Background(), day)
	assert.EqualError(t, err, "s3 down")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("S3_EXPORT_ENABLED", "false")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())

	t.Setenv("S3_EXPORT_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET_NAME", "ledger-bucket")
	t.Setenv("S3_EXPORT_PREFIX", "/exports/")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "exports", cfg.Prefix)
}

func TestS3Uploader_PutObject(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			puts[r.URL.Path] = string(body)
			mu.Unlock()
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	cfg := &Config{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		BucketName:      "ledger-bucket",
		EndpointURL:     srv.URL,
		Enabled:         true,
	}
	ctx := context.Background()
	up, err := NewS3Uploader(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, up.Put(ctx, "ledger/2026/01/01.jsonl", []byte("{\"id\":\"e1\"}\n"), "application/x-ndjson"))

	mu.Lock()
	defer mu.Unlock()
	got, ok := puts["/ledger-bucket/ledger/2026/01/01.jsonl"]
	require.True(t, ok, "paths: %v", puts)
	assert.True(t, strings.HasPrefix(got, `{"id":"e1"}`))
}

func TestNewS3Uploader_Disabled(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), &Config{})
	assert.Error(t, err)
}
