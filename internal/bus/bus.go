// Package bus adapts the NATS/JetStream connection to envelope semantics:
// publish/subscribe keyed by the topic router, dead-letter routing, and the
// retry-count header convention carried over from the teacher's ingest
// consumer.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
)

// RetryCountHeader carries the number of redelivery attempts so far,
// mirroring engine/ingest/ingest.go:StartConsumer's "X-Retry-Count" header.
const RetryCountHeader = "X-Retry-Count"

// headerCarrier adapts *nats.Msg headers to the OTel TextMapCarrier
// interface, identical in shape to pkg/natsutil's natsHeaderCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Bus publishes and subscribes to envelopes over a NATS connection.
type Bus struct {
	nc     *nats.Conn
	codec  *envelope.Codec
	router *envelope.Router
	log    *slog.Logger
}

// New creates a Bus bound to an established NATS connection.
func New(nc *nats.Conn, codec *envelope.Codec, router *envelope.Router, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{nc: nc, codec: codec, router: router, log: log}
}

// Publish encodes env and publishes it to the topic resolved for its
// event_type, injecting the current trace context into message headers and
// setting Nats-Msg-Id to the envelope's event_id. The message carries no
// correlation_id key: it goes to the topic's subject as is, and nothing
// routes a causal chain to a single partition.
func (b *Bus) Publish(ctx context.Context, env domain.Envelope) error {
	topic := b.router.TopicFor(env.EventType)
	data, err := b.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", env.EventType, err)
	}
	msg := &nats.Msg{Subject: topic, Data: data, Header: nats.Header{}}
	msg.Header.Set("Nats-Msg-Id", env.EventID)
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// PublishDeadLetter sends env to this router's dead-letter topic.
func (b *Bus) PublishDeadLetter(ctx context.Context, env domain.Envelope, reason string) error {
	data, err := b.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("bus: encode dead-letter: %w", err)
	}
	msg := &nats.Msg{Subject: b.router.DeadLetterTopic(), Data: data, Header: nats.Header{}}
	msg.Header.Set("X-Dead-Letter-Reason", reason)
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return b.nc.PublishMsg(msg)
}

// Republish re-publishes the same wire bytes to subject with the retry-count
// header set to retries (callers pass the previous count plus one) — the
// redelivery path used when a handler returns retry(delay) (§4.3 step 6).
func (b *Bus) Republish(subject string, original *nats.Msg, retries int) error {
	retryMsg := nats.NewMsg(subject)
	retryMsg.Data = original.Data
	retryMsg.Header = nats.Header{}
	retryMsg.Header.Set(RetryCountHeader, fmt.Sprintf("%d", retries))
	return b.nc.PublishMsg(retryMsg)
}

// RetryCount extracts the current redelivery count from a message's header.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	v := msg.Header.Get(RetryCountHeader)
	if v == "" {
		return 0
	}
	var n int
	fmt.Sscanf(v, "%d", &n)
	return n
}

// Subscribe registers a raw handler on subject. The handler is responsible
// for decoding via Codec — kept low-level here so internal/orchestrator can
// own ack/retry/dead-letter policy.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subject, handler)
}

// ExtractTraceContext pulls the propagated trace context out of a message's
// headers, for handlers that want to continue the caller's span.
func ExtractTraceContext(ctx context.Context, msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, (*headerCarrier)(msg))
}
