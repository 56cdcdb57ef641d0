// Package archive exports the signal ledger as JSONL to external destinations.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"predict_go/internal/infra/storage"
)

// Source pages through ledger records in insertion order.
type Source interface {
	After(ctx context.Context, afterID uint64, limit int) ([]storage.SignalRecord, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string               `json:"type"`
	Data storage.SignalRecord `json:"data"`
}

// ExportJSONL writes every ledger record to w, oldest first, after a header line.
// It returns the number of records written.
func ExportJSONL(ctx context.Context, src Source, w io.Writer, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{Version: "1", Type: "header", Timestamp: time.Now().UTC()}); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	var (
		after uint64
		total int
	)
	for {
		recs, err := src.After(ctx, after, batch)
		if err != nil {
			return total, fmt.Errorf("read ledger: %w", err)
		}
		for i := range recs {
			if err := enc.Encode(record{Type: "signal", Data: recs[i]}); err != nil {
				return total, fmt.Errorf("write signal: %w", err)
			}
			after = recs[i].ID
			total++
		}
		if len(recs) < batch {
			return total, nil
		}
	}
}
