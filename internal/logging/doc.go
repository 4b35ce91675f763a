// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, run.id, account.id)
//   - Secret redaction at the encoder
//   - Level-aware sampling (errors never sampled)
//
// The coordinator tags each run's context with logging.WithRunID and each
// account's with logging.WithAccountID. Components holding a plain
// *zap.Logger attach the same correlation fields with ContextFields:
//
//	logger := base.With(logging.ContextFields(ctx)...)
//	logger.Info("decision published", zap.Int("posts", 1))
//
// Output includes the correlation fields:
//
//	{"ts":"2026-02-06T09:00:01Z","level":"info","msg":"decision published",
//	 "run.id":"4b0c…","account.id":"acct-1","posts":1}
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//
// Logger is safe for concurrent use.
package logging
