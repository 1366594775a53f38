package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/omninode-ai/omniintelligence-core/internal/bus"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
	"github.com/omninode-ai/omniintelligence-core/internal/handler"
)

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

// fakeHandler claims a single event type and returns a caller-supplied
// outcome for every envelope it sees.
type fakeHandler struct {
	name      string
	eventType string
	outcome   func(domain.Envelope) handler.Outcome
	mu        sync.Mutex
	seen      []domain.Envelope
}

func (f *fakeHandler) Name() string                      { return f.name }
func (f *fakeHandler) CanHandle(eventType string) bool    { return eventType == f.eventType }
func (f *fakeHandler) GetMetrics() handler.MetricsSnapshot { return handler.MetricsSnapshot{} }
func (f *fakeHandler) Handle(_ context.Context, env domain.Envelope) handler.Outcome {
	f.mu.Lock()
	f.seen = append(f.seen, env)
	f.mu.Unlock()
	return f.outcome(env)
}

func testHarness(t *testing.T) (*nats.Conn, *bus.Bus, *envelope.Codec, *envelope.Router) {
	nc := startTestNATS(t)
	codec := envelope.NewCodec(0)
	router := envelope.NewRouter("dev", "test-service")
	b := bus.New(nc, codec, router, nil)
	return nc, b, codec, router
}

func subscribeOnce(t *testing.T, nc *nats.Conn, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 4)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) { ch <- msg })
	if err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func TestProcessOneMalformedEnvelopeDeadLetters(t *testing.T) {
	nc, b, _, router := testHarness(t)
	registry := handler.NewRegistry()
	host := New(b, envelope.NewCodec(0), registry, HostOpts{})

	dl := subscribeOnce(t, nc, router.DeadLetterTopic())

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := nc.Publish(subject, []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-dl:
		if msg.Header.Get("X-Dead-Letter-Reason") != "MALFORMED_ENVELOPE" {
			t.Fatalf("expected MALFORMED_ENVELOPE, got %q", msg.Header.Get("X-Dead-Letter-Reason"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dead-lettered message")
	}
}

func TestProcessOneNoHandlerDeadLetters(t *testing.T) {
	nc, b, codec, router := testHarness(t)
	registry := handler.NewRegistry() // no handlers registered
	host := New(b, codec, registry, HostOpts{})

	dl := subscribeOnce(t, nc, router.DeadLetterTopic())

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}

	env := domain.NewEnvelope(domain.EventDocumentIndexRequested, domain.Source{Service: "test"}, map[string]any{})
	data, err := codec.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := nc.Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-dl:
		if msg.Header.Get("X-Dead-Letter-Reason") != "NO_HANDLER" {
			t.Fatalf("expected NO_HANDLER, got %q", msg.Header.Get("X-Dead-Letter-Reason"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dead-lettered message")
	}
}

func TestProcessOneAckPublishesOutgoingEnvelope(t *testing.T) {
	nc, b, codec, router := testHarness(t)

	outgoing := domain.NewEnvelope(domain.EventDocumentIndexCompleted, domain.Source{Service: "test"}, map[string]any{"ok": true})
	h := &fakeHandler{
		name:      "fake",
		eventType: domain.EventDocumentIndexRequested,
		outcome: func(domain.Envelope) handler.Outcome {
			return handler.Ack(outgoing)
		},
	}
	registry := handler.NewRegistry()
	registry.Register(h)
	host := New(b, codec, registry, HostOpts{})

	outTopic := router.TopicFor(domain.EventDocumentIndexCompleted)
	outCh := subscribeOnce(t, nc, outTopic)

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}

	env := domain.NewEnvelope(domain.EventDocumentIndexRequested, domain.Source{Service: "test"}, map[string]any{})
	data, _ := codec.Encode(env)
	if err := nc.Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-outCh:
		decoded, err := codec.Decode(msg.Data)
		if err != nil {
			t.Fatalf("decode outgoing: %v", err)
		}
		if decoded.EventID != outgoing.EventID {
			t.Fatalf("expected outgoing event_id %s, got %s", outgoing.EventID, decoded.EventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published outgoing envelope")
	}
}

func TestProcessOneRetryRepublishesWithIncrementedCount(t *testing.T) {
	nc, b, codec, router := testHarness(t)

	var calls int64
	h := &fakeHandler{
		name:      "fake",
		eventType: domain.EventDocumentIndexRequested,
		outcome: func(domain.Envelope) handler.Outcome {
			if atomic.AddInt64(&calls, 1) == 1 {
				return handler.Retry(0)
			}
			// Ack every delivery after the first so the republish loop
			// settles instead of retrying indefinitely.
			return handler.Ack()
		},
	}
	registry := handler.NewRegistry()
	registry.Register(h)
	host := New(b, codec, registry, HostOpts{})

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	retried := subscribeOnce(t, nc, subject)

	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}

	env := domain.NewEnvelope(domain.EventDocumentIndexRequested, domain.Source{Service: "test"}, map[string]any{})
	data, _ := codec.Encode(env)
	if err := nc.Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The original delivery itself also lands in retried (same subject);
	// the republished copy carries a retry-count header of 1.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-retried:
			if bus.RetryCount(msg) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for republished message with retry count 1")
		}
	}
}

func TestProcessOneDeadLetterOutcomePublishesReason(t *testing.T) {
	nc, b, codec, router := testHarness(t)

	h := &fakeHandler{
		name:      "fake",
		eventType: domain.EventDocumentIndexRequested,
		outcome: func(domain.Envelope) handler.Outcome {
			return handler.DeadLetter("VALIDATION_FAILED")
		},
	}
	registry := handler.NewRegistry()
	registry.Register(h)
	host := New(b, codec, registry, HostOpts{})

	dl := subscribeOnce(t, nc, router.DeadLetterTopic())

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}

	env := domain.NewEnvelope(domain.EventDocumentIndexRequested, domain.Source{Service: "test"}, map[string]any{})
	data, _ := codec.Encode(env)
	if err := nc.Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-dl:
		if msg.Header.Get("X-Dead-Letter-Reason") != "VALIDATION_FAILED" {
			t.Fatalf("expected VALIDATION_FAILED, got %q", msg.Header.Get("X-Dead-Letter-Reason"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dead-lettered message")
	}
}

func TestBackpressureBoundsConcurrentInFlight(t *testing.T) {
	nc, b, codec, router := testHarness(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	h := &fakeHandler{
		name:      "fake",
		eventType: domain.EventDocumentIndexRequested,
		outcome: func(domain.Envelope) handler.Outcome {
			entered <- struct{}{}
			<-release
			return handler.Ack()
		},
	}
	registry := handler.NewRegistry()
	registry.Register(h)
	host := New(b, codec, registry, HostOpts{MaxInFlight: 1})

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}

	env := domain.NewEnvelope(domain.EventDocumentIndexRequested, domain.Source{Service: "test"}, map[string]any{})
	data, _ := codec.Encode(env)
	for i := 0; i < 2; i++ {
		if err := nc.Publish(subject, data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first handler invocation")
	}

	if got := host.InFlight(); got != 1 {
		t.Fatalf("expected exactly 1 in-flight with MaxInFlight=1, got %d", got)
	}

	// The second message must not enter the handler while the first holds
	// the only permit.
	select {
	case <-entered:
		t.Fatal("second message entered handler before the first released its permit")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for second handler invocation after release")
	}
}

// fakeRecorder tracks the peak observed in-flight count and whether the
// max-in-flight-reached counter ever fired, mirroring the two assertions
// the spec's concrete backpressure scenario makes against metrics.
type fakeRecorder struct {
	mu              sync.Mutex
	peakInFlight    int
	maxReachedCount int
}

func (f *fakeRecorder) ObserveHandlerInvocation(string, string, time.Duration) {}
func (f *fakeRecorder) ObserveBackpressureWait(time.Duration)                 {}
func (f *fakeRecorder) IncMaxInFlightReached() {
	f.mu.Lock()
	f.maxReachedCount++
	f.mu.Unlock()
}
func (f *fakeRecorder) SetInFlight(n int) {
	f.mu.Lock()
	if n > f.peakInFlight {
		f.peakInFlight = n
	}
	f.mu.Unlock()
}

// TestBackpressureHandles100ConcurrentRequests is the spec's concrete
// backpressure scenario: max_in_flight=3, 100 requests each with a brief
// downstream delay, expecting observed concurrency never exceeding 3, the
// max-in-flight-reached counter firing at least once, and all 100 terminal
// envelopes eventually emitted.
func TestBackpressureHandles100ConcurrentRequests(t *testing.T) {
	nc, b, codec, router := testHarness(t)

	const total = 100
	const maxInFlight = 3

	var concurrent int64
	var peak int64
	h := &fakeHandler{
		name:      "fake",
		eventType: domain.EventDocumentIndexRequested,
		outcome: func(env domain.Envelope) handler.Outcome {
			n := atomic.AddInt64(&concurrent, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&concurrent, -1)
			out := domain.NewEnvelope(domain.EventDocumentIndexCompleted, domain.Source{Service: "test"}, map[string]any{"parent": env.EventID})
			return handler.Ack(out)
		},
	}
	registry := handler.NewRegistry()
	registry.Register(h)

	rec := &fakeRecorder{}
	host := New(b, codec, registry, HostOpts{MaxInFlight: maxInFlight, Recorder: rec})

	outTopic := router.TopicFor(domain.EventDocumentIndexCompleted)
	outCh := subscribeOnce(t, nc, outTopic)

	subject := router.TopicFor(domain.EventDocumentIndexRequested)
	if _, err := host.Consume(subject); err != nil {
		t.Fatalf("consume: %v", err)
	}

	for i := 0; i < total; i++ {
		env := domain.NewEnvelope(domain.EventDocumentIndexRequested, domain.Source{Service: "test"}, map[string]any{"i": i})
		data, _ := codec.Encode(env)
		if err := nc.Publish(subject, data); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	received := 0
	deadline := time.After(10 * time.Second)
	for received < total {
		select {
		case <-outCh:
			received++
		case <-deadline:
			t.Fatalf("timeout waiting for terminal envelopes, got %d/%d", received, total)
		}
	}

	if got := atomic.LoadInt64(&peak); got > maxInFlight {
		t.Fatalf("observed concurrency %d exceeded max_in_flight %d", got, maxInFlight)
	}
	rec.mu.Lock()
	reached := rec.maxReachedCount
	rec.mu.Unlock()
	if reached == 0 {
		t.Fatal("expected max_in_flight_reached to fire at least once across 100 requests")
	}
}
