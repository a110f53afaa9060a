// Package observability provides OpenTelemetry tracing and metrics for the
// timevault service, following the RED (Rate, Errors, Duration) pattern.
//
// # Setup
//
// Initialize the provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "timevault",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// When Enabled is false the provider still constructs cleanly and every
// method is a no-op, so callers never need to nil-check telemetry.
//
// # Instrumenting operations
//
// Wrap an operation with TrackOperation to get a span, a request count,
// a duration sample, and an active-operations gauge in one call:
//
//	ctx, finish := obs.TrackOperation(ctx, "vault.execute",
//		observability.AttrInstanceID.String(id))
//	err := tl.Execute(ctx, caller, tx)
//	finish(err)
//
// Queue depth has its own gauge: add +1 when a transaction is queued and
// -1 when it leaves the queue via execute or cancel:
//
//	obs.RecordQueueDepth(ctx, 1)
//
// # SLO tracking
//
// Every finished operation also feeds an in-process SLO tracker. Set
// targets for the operations you care about and read compliance status:
//
//	for _, target := range observability.DefaultTargets() {
//		obs.SLO().SetTarget(target)
//	}
//	status, _ := obs.SLO().Status("vault.execute")
package observability
