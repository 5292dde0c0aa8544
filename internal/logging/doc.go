// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry logs bridge)
//   - Automatic context field injection (trace_id, session.id, request.id, namespace)
//   - Secret redaction at the encoder
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, appCfg.Observability.ServiceName)
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "3f1c9a2e-0b8d-4c55-9e1a-2f6d7c8b9a01")
//	ctx = logging.WithNamespace(ctx, "parallel_query")
//	logger.Info(ctx, "answer synthesized", zap.Int("pages", 3))
//
// Output carries the correlation fields:
//
//	{
//	  "ts": "2026-03-02T10:15:30Z",
//	  "level": "info",
//	  "msg": "answer synthesized",
//	  "trace_id": "abc123",
//	  "session.id": "3f1c9a2e-0b8d-4c55-9e1a-2f6d7c8b9a01",
//	  "namespace": "parallel_query",
//	  "pages": 3
//	}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "sub-query skipped", zap.Error(err))
//	tl.AssertLogged(t, zapcore.WarnLevel, "sub-query skipped")
//	tl.AssertNoSecrets(t)
package logging
