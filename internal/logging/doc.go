// Package logging wraps zap with context-aware methods used across recall.
//
// Services take a *Logger and log through the context-first methods so
// correlation fields (active trace, session id) ride along automatically:
//
//	log := logger.Named("indexer")
//	log.Info(ctx, "reindex complete", zap.Int("new_messages", n))
//
// A nil or absent logger degrades to a nop; nothing in the codebase
// should ever have to guard a log call.
package logging
