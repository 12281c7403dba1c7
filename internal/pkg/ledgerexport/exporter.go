package ledgerexport

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/app/models"
)

// EntrySource lists ledger entries by creation time.
type EntrySource interface {
	EntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
}

type Result struct {
	ObjectKey string `json:"object_key"`
	Entries   int    `json:"entries"`
	Bytes     int    `json:"bytes"`
}

// Exporter writes one JSON line per ledger entry of a UTC day.
type Exporter struct {
	source   EntrySource
	uploader Uploader
	config   *Config
}

func NewExporter(source EntrySource, uploader Uploader, cfg *Config) *Exporter {
	return &Exporter{source: source, uploader: uploader, config: cfg}
}

// ExportDay uploads the entries created on day. Re-exporting a day
// overwrites the object with the same content.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) (*Result, error) {
	from := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	entries, err := e.source.EntriesBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, err
		}
	}

	key := e.config.ObjectKey(from)
	if err := e.uploader.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return nil, err
	}
	log.Infof("[LedgerExport] Exported %d entries of %s", len(entries), from.Format("2006-01-02"))
	return &Result{ObjectKey: key, Entries: len(entries), Bytes: buf.Len()}, nil
}
