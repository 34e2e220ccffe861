// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log wraps zerolog with the process-wide logger, field names and
// request correlation used across photocast.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	targetIDKey
)

// ContextWithRequestID tags ctx with the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithTargetID tags ctx with the cast target whose session does the work.
func ContextWithTargetID(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, targetIDKey, name)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func TargetIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(targetIDKey).(string)
	return id
}

// WithContext adds the correlation IDs found in ctx to logger. Without any it
// returns logger unchanged.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rid, tid := RequestIDFromContext(ctx), TargetIDFromContext(ctx)
	if rid == "" && tid == "" {
		return logger
	}
	c := logger.With()
	if rid != "" {
		c = c.Str(FieldRequestID, rid)
	}
	if tid != "" {
		c = c.Str(FieldTargetID, tid)
	}
	return c.Logger()
}

// WithComponentFromContext is WithComponent plus the IDs from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
