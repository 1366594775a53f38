package bus

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
)

// startTestNATS launches an in-process NATS server, mirroring
// pkg/natsutil's embedded-server test pattern.
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("start nats server: %v", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats server not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func testEnvelope(eventType string) domain.Envelope {
	return domain.NewEnvelope(eventType, domain.Source{Service: "test", InstanceID: "1"}, map[string]any{"k": "v"})
}

func TestBusPublishAndSubscribeRoundTrip(t *testing.T) {
	nc := startTestNATS(t)
	codec := envelope.NewCodec(0)
	router := envelope.NewRouter("dev", "test-service")
	b := New(nc, codec, router, nil)

	env := testEnvelope(domain.EventDocumentIndexRequested)
	topic := router.TopicFor(domain.EventDocumentIndexRequested)

	received := make(chan domain.Envelope, 1)
	sub, err := b.Subscribe(topic, func(msg *nats.Msg) {
		decoded, err := codec.Decode(msg.Data)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		received <- decoded
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.EventID != env.EventID {
			t.Fatalf("expected event_id %s, got %s", env.EventID, got.EventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published message")
	}
}

func TestBusPublishDeadLetterRoutesToDeadLetterTopic(t *testing.T) {
	nc := startTestNATS(t)
	codec := envelope.NewCodec(0)
	router := envelope.NewRouter("dev", "test-service")
	b := New(nc, codec, router, nil)

	received := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe(router.DeadLetterTopic(), func(msg *nats.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	env := testEnvelope(domain.EventDocumentIndexRequested)
	if err := b.PublishDeadLetter(context.Background(), env, "TEST_REASON"); err != nil {
		t.Fatalf("publish dead letter: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Header.Get("X-Dead-Letter-Reason") != "TEST_REASON" {
			t.Fatalf("expected reason header, got %q", msg.Header.Get("X-Dead-Letter-Reason"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dead-lettered message")
	}
}

func TestBusRepublishIncrementsRetryHeader(t *testing.T) {
	nc := startTestNATS(t)
	codec := envelope.NewCodec(0)
	router := envelope.NewRouter("dev", "test-service")
	b := New(nc, codec, router, nil)

	original := &nats.Msg{Subject: "retry.subject", Data: []byte("payload")}

	received := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe("retry.subject", func(msg *nats.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Republish("retry.subject", original, 1); err != nil {
		t.Fatalf("republish: %v", err)
	}

	select {
	case msg := <-received:
		if RetryCount(msg) != 1 {
			t.Fatalf("expected retry count 1, got %d", RetryCount(msg))
		}
		if string(msg.Data) != "payload" {
			t.Fatalf("expected original payload to survive republish, got %q", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for republished message")
	}
}
