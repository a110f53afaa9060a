// Package observability provides timevault-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Timevault semantic convention attributes.
var (
	// Instance attributes
	AttrInstanceID = attribute.Key("timevault.instance.id")
	AttrOwner      = attribute.Key("timevault.instance.owner")

	// Deposit attributes
	AttrDepositID = attribute.Key("timevault.deposit.id")
	AttrAmount    = attribute.Key("timevault.deposit.amount")
	AttrReleaseAt = attribute.Key("timevault.deposit.release_at")

	// Queued transaction attributes
	AttrTxID   = attribute.Key("timevault.tx.id")
	AttrTarget = attribute.Key("timevault.tx.target")

	// Operation and journal attributes
	AttrOperation = attribute.Key("timevault.operation")
	AttrEventKind = attribute.Key("timevault.event.kind")
	AttrEventSeq  = attribute.Key("timevault.event.seq")
)

// DepositOperation creates attributes for deposit lifecycle operations.
func DepositOperation(instanceID, depositID string, amount, releaseAt int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInstanceID.String(instanceID),
		AttrDepositID.String(depositID),
		AttrAmount.Int64(amount),
		AttrReleaseAt.Int64(releaseAt),
	}
}

// QueueOperation creates attributes for queueing a timelocked transaction.
func QueueOperation(instanceID, txID, target string, releaseAt int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInstanceID.String(instanceID),
		AttrTxID.String(txID),
		AttrTarget.String(target),
		AttrReleaseAt.Int64(releaseAt),
	}
}

// SettleOperation creates attributes for execute and cancel operations.
func SettleOperation(instanceID, txID, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInstanceID.String(instanceID),
		AttrTxID.String(txID),
		AttrOperation.String(operation),
	}
}

// ClaimOperation creates attributes for claim marking.
func ClaimOperation(instanceID, depositID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInstanceID.String(instanceID),
		AttrDepositID.String(depositID),
		AttrOperation.String("claim"),
	}
}

// JournalEvent creates attributes for notification journal appends.
func JournalEvent(instanceID, kind string, seq uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInstanceID.String(instanceID),
		AttrEventKind.String(kind),
		AttrEventSeq.Int64(int64(seq)),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
