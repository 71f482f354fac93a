package requestctx

import (
	"context"
	"testing"
)

func TestLocaleRoundTrip(t *testing.T) {
	ctx := WithLocale(context.Background(), " pt-BR ")
	if got := LocaleFromContext(ctx); got != "pt-BR" {
		t.Fatalf("expected pt-BR, got %q", got)
	}
}

func TestLocaleMissing(t *testing.T) {
	if got := LocaleFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty locale, got %q", got)
	}
	//nolint:staticcheck // nil context is part of the contract
	if got := LocaleFromContext(nil); got != "" {
		t.Fatalf("expected empty locale for nil context, got %q", got)
	}
}
