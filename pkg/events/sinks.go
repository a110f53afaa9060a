package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// LogSink emits each event as a structured log record.
func LogSink(logger *slog.Logger) contracts.EventSink {
	return contracts.SinkFunc(func(e contracts.Event) {
		attrs := []any{
			slog.String("event_id", e.ID),
			slog.String("kind", string(e.Kind)),
			slog.Time("at", e.Timestamp),
		}
		if e.InstanceID != "" {
			attrs = append(attrs, slog.String("instance_id", e.InstanceID))
		}
		if !e.DepositID.IsZero() {
			attrs = append(attrs, slog.String("deposit_id", e.DepositID.String()))
		}
		if !e.TxID.IsZero() {
			attrs = append(attrs, slog.String("tx_id", e.TxID.String()))
		}
		if e.Amount != 0 {
			attrs = append(attrs, slog.Int64("amount", e.Amount))
		}
		if e.Recipient != "" {
			attrs = append(attrs, slog.String("recipient", string(e.Recipient)))
		}
		logger.Info("timelock event", attrs...)
	})
}

// WriterSink emits each event as one JSON object per line, for tailing
// or shipping to an external audit pipeline. Writes are serialized; a
// failed write is dropped rather than surfaced to the emitter.
func WriterSink(w io.Writer) contracts.EventSink {
	var mu sync.Mutex
	return contracts.SinkFunc(func(e contracts.Event) {
		raw, err := json.Marshal(e)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(append(raw, '\n'))
	})
}

// CollectSink appends every event to a caller-owned slice. Test helper.
type CollectSink struct {
	Events []contracts.Event
}

// Emit implements contracts.EventSink.
func (c *CollectSink) Emit(e contracts.Event) {
	c.Events = append(c.Events, e)
}

// Kinds returns the kinds seen so far, in order.
func (c *CollectSink) Kinds() []contracts.EventKind {
	out := make([]contracts.EventKind, len(c.Events))
	for i, e := range c.Events {
		out[i] = e.Kind
	}
	return out
}
