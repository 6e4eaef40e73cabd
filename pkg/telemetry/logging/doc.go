// Package logging configures the process-wide slog logger.
//
// New builds a *slog.Logger from Config. The handler chain is:
//
//	format handler (json or text)
//	  <- RedactingHandler (when RedactPII is set)
//	    <- context handler (request_id, policy, client from the context)
//
// Components log through slog.Default().With("component", ...) and pass the
// request context to the *Context methods so request-scoped fields are
// attached automatically:
//
//	ctx = logging.WithRequestID(ctx, id)
//	logger.InfoContext(ctx, "Request governed", "model", model)
//
// # PII Redaction
//
// With RedactPII enabled every log message and string attribute is passed
// through a Redactor before it is written. The default redactor is the
// gateway's PII detector, so logs use the same entity catalog and the same
// [EMAIL]-style tags as redacted prompts. Attributes whose key names a
// secret (password, token, api_key, authorization, ...) are masked
// entirely.
package logging
