package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/event"
)

// Historian archives bus traffic to the process log and verdicts to the ledger.
// It keeps recording after the kill so the shutdown itself is archived.
type Historian struct {
	*Base
	ledger domain.SignalLedger

	mu  sync.Mutex
	out io.Writer
}

// NewHistorian creates the archival agent writing lines to out.
func NewHistorian(bus *event.Bus, ledger domain.SignalLedger, out io.Writer, logger *slog.Logger) *Historian {
	return &Historian{
		Base:   NewBase("historian", bus, logger),
		ledger: ledger,
		out:    out,
	}
}

// Start subscribes to every archival topic.
func (h *Historian) Start(ctx context.Context) error {
	for _, topic := range event.ArchivalTopics {
		if err := h.bus.Subscribe(topic, h.name, h.archive); err != nil {
			return err
		}
	}
	h.Log("historian started", "topics", len(event.ArchivalTopics))
	return nil
}

// FormatLine renders ev as "[timestamp] [sender] topic: JSON".
func FormatLine(ev event.Event) (string, error) {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] [%s] %s: %s\n", ev.Timestamp.Format(time.RFC3339Nano), ev.Sender, ev.Topic, raw), nil
}

func (h *Historian) archive(ctx context.Context, ev event.Event) error {
	line, err := FormatLine(ev)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Topic, err)
	}

	h.mu.Lock()
	_, err = io.WriteString(h.out, line)
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write process log: %w", err)
	}

	if ev.Topic != event.TopicVerdict {
		return nil
	}
	var s domain.Signal
	if err := ev.Decode(&s); err != nil {
		return err
	}
	if err := h.ledger.Append(ctx, s); err != nil {
		return fmt.Errorf("append signal %s: %w", s.ID, err)
	}
	return nil
}
