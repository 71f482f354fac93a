// Package requestctx carries per-request values across transport boundaries.
package requestctx

import (
	"context"
	"strings"
)

// localeContextKey is the context key for the caller's preferred locale.
type localeContextKey struct{}

// WithLocale stores the caller's locale (a tag or Accept-Language value) in context.
func WithLocale(ctx context.Context, locale string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey{}, strings.TrimSpace(locale))
}

// LocaleFromContext returns the locale stored in context.
func LocaleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(localeContextKey{}).(string)
	return value
}
