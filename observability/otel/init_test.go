package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = secret ,broken,=nokey, tenant=cdp")
	if len(got) != 2 {
		t.Fatalf("expected two headers, got %v", got)
	}
	if got["api-key"] != "secret" || got["tenant"] != "cdp" {
		t.Fatalf("unexpected headers: %v", got)
	}
	if len(ParseHeaders("")) != 0 {
		t.Fatalf("empty input should yield no headers")
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestInitWithoutExportersShutsDownCleanly(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "cdpd",
		Attributes:  map[string]string{"cdp.stable": "USDX"},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
