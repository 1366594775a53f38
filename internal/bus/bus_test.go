package bus

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestRetryCountDefaultsToZero(t *testing.T) {
	msg := &nats.Msg{Subject: "x"}
	if got := RetryCount(msg); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestRetryCountParsesHeader(t *testing.T) {
	msg := &nats.Msg{Subject: "x", Header: nats.Header{}}
	msg.Header.Set(RetryCountHeader, "2")
	if got := RetryCount(msg); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestHeaderCarrierSetAndGet(t *testing.T) {
	msg := &nats.Msg{Subject: "x"}
	c := (*headerCarrier)(msg)
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("got %q", got)
	}
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "Traceparent" {
		// nats.Header canonicalizes keys like http.Header
		found := false
		for _, k := range keys {
			if k == "traceparent" || k == "Traceparent" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected traceparent key present, got %v", keys)
		}
	}
}
