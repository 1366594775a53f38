// Package orchestrator implements the runtime host (§4.3): it owns the
// consume loop and the backpressure semaphore, decodes envelopes, resolves
// a handler, invokes it behind a per-scope circuit breaker, and drives the
// ack/retry/dead-letter state machine.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/omninode-ai/omniintelligence-core/internal/bus"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
	"github.com/omninode-ai/omniintelligence-core/internal/handler"
	"github.com/omninode-ai/omniintelligence-core/pkg/resilience"
)

// Recorder is the subset of internal/metrics.Registry the host needs —
// declared here so orchestrator has no import-time dependency on the
// concrete Prometheus registry.
type Recorder interface {
	ObserveHandlerInvocation(handlerName string, outcome string, duration time.Duration)
	ObserveBackpressureWait(duration time.Duration)
	IncMaxInFlightReached()
	SetInFlight(n int)
}

// noopRecorder discards all observations — used when no Recorder is wired.
type noopRecorder struct{}

func (noopRecorder) ObserveHandlerInvocation(string, string, time.Duration) {}
func (noopRecorder) ObserveBackpressureWait(time.Duration)                 {}
func (noopRecorder) IncMaxInFlightReached()                                {}
func (noopRecorder) SetInFlight(int)                                      {}

// HostOpts configures a Host.
type HostOpts struct {
	MaxInFlight     int
	HandlerTimeout  time.Duration // default bound on a single Handle call
	ShutdownGrace   time.Duration
	BreakerOpts     resilience.BreakerOpts
	Recorder        Recorder
	Logger          *slog.Logger
}

// DefaultHostOpts mirrors the spec's stated defaults: 30s handler timeout
// for indexing-class work, 10s shutdown grace, and the circuit breaker's
// documented 5-failure/60s-recovery defaults (§4.3, §4.4, §5).
var DefaultHostOpts = HostOpts{
	MaxInFlight:    64,
	HandlerTimeout: 30 * time.Second,
	ShutdownGrace:  10 * time.Second,
	BreakerOpts:    resilience.BreakerOpts{FailThreshold: 5, Timeout: 60 * time.Second, HalfOpenMax: 1},
}

// Host is the runtime host: the owner of the consume loop.
type Host struct {
	bus      *bus.Bus
	codec    *envelope.Codec
	registry *handler.Registry
	opts     HostOpts
	rec      Recorder
	log      *slog.Logger

	sem       chan struct{}
	breakers  map[string]*resilience.Breaker
	breakerMu sync.Mutex

	inFlight   int64
	inFlightMu sync.Mutex

	wg sync.WaitGroup
}

// New constructs a Host bound to a bus, codec, and handler registry.
func New(b *bus.Bus, codec *envelope.Codec, registry *handler.Registry, opts HostOpts) *Host {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultHostOpts.MaxInFlight
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHostOpts.HandlerTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultHostOpts.ShutdownGrace
	}
	if opts.BreakerOpts.FailThreshold <= 0 {
		opts.BreakerOpts = DefaultHostOpts.BreakerOpts
	}
	rec := opts.Recorder
	if rec == nil {
		rec = noopRecorder{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		bus:      b,
		codec:    codec,
		registry: registry,
		opts:     opts,
		rec:      rec,
		log:      log,
		sem:      make(chan struct{}, opts.MaxInFlight),
		breakers: make(map[string]*resilience.Breaker),
	}
}

// breakerFor returns the shared breaker for (handlerName, downstream),
// creating it on first use (§4.4's "per named scope").
func (h *Host) breakerFor(scope string) *resilience.Breaker {
	h.breakerMu.Lock()
	defer h.breakerMu.Unlock()
	b, ok := h.breakers[scope]
	if !ok {
		b = resilience.NewBreaker(h.opts.BreakerOpts)
		h.breakers[scope] = b
	}
	return b
}

// BreakerState exposes the current state of a named scope's breaker, for
// metrics/tests.
func (h *Host) BreakerState(scope string) resilience.State {
	return h.breakerFor(scope).State()
}

// Consume subscribes to subject and processes every message through the
// per-envelope state machine in its own goroutine, respecting MaxInFlight.
func (h *Host) Consume(subject string) (*nats.Subscription, error) {
	return h.bus.Subscribe(subject, func(msg *nats.Msg) {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.processOne(subject, msg)
		}()
	})
}

// processOne implements the seven-step state machine of §4.3.
func (h *Host) processOne(subject string, msg *nats.Msg) {
	ctx := bus.ExtractTraceContext(context.Background(), msg)

	// Step 1: acquire a backpressure permit, measuring wait.
	waitStart := time.Now()
	select {
	case h.sem <- struct{}{}:
	default:
		h.rec.IncMaxInFlightReached()
		h.sem <- struct{}{}
	}
	h.rec.ObserveBackpressureWait(time.Since(waitStart))
	h.addInFlight(1)
	defer func() {
		h.addInFlight(-1)
		<-h.sem
	}()

	// Step 2: decode.
	env, err := h.codec.Decode(msg.Data)
	if err != nil {
		h.log.Warn("orchestrator: malformed envelope, dead-lettering", "error", err)
		_ = h.bus.PublishDeadLetter(ctx, env, "MALFORMED_ENVELOPE")
		h.ackJetStream(msg)
		return
	}

	// Step 3: find the first handler that claims this event_type.
	hd := h.registry.Resolve(env.EventType)
	if hd == nil {
		h.log.Warn("orchestrator: no handler for event type", "event_type", env.EventType)
		_ = h.bus.PublishDeadLetter(ctx, env, "NO_HANDLER")
		h.ackJetStream(msg)
		return
	}

	// Step 4: invoke the handler behind its circuit breaker, bounded by a
	// per-handler timeout.
	hctx, cancel := context.WithTimeout(ctx, h.opts.HandlerTimeout)
	defer cancel()

	scope := hd.Name()
	breaker := h.breakerFor(scope)
	start := time.Now()

	var outcome handler.Outcome
	err = breaker.Call(hctx, func(callCtx context.Context) error {
		outcome = h.safeHandle(hd, callCtx, env)
		if outcome.Kind == handler.OutcomeDeadLetter {
			return nil // no handler outcome is reported to the breaker as a failure
		}
		return nil
	})

	h.rec.ObserveHandlerInvocation(scope, string(outcome.Kind), time.Since(start))

	if err != nil {
		// Circuit is open — fail fast, no downstream touch (§4.4).
		h.log.Warn("orchestrator: circuit open, retrying later", "handler", scope)
		retries := bus.RetryCount(msg) + 1
		_ = h.bus.Republish(subject, msg, retries)
		h.ackJetStream(msg)
		return
	}

	switch outcome.Kind {
	case handler.OutcomeAck:
		// Step 5: publish outgoing events, then commit.
		allSent := true
		for _, out := range outcome.Outgoing {
			if pubErr := h.bus.Publish(ctx, out); pubErr != nil {
				allSent = false
				h.log.Error("orchestrator: publish outgoing event failed", "error", pubErr, "event_type", out.EventType)
			}
		}
		if !allSent {
			// Each outgoing envelope is published once, without retry; if
			// any publish failed, the runtime host dead-letters the input to
			// avoid a poison loop (§7's terminal emission rule).
			_ = h.bus.PublishDeadLetter(ctx, env, "TERMINAL_EMISSION_FAILED")
		}
		h.ackJetStream(msg)

	case handler.OutcomeRetry:
		// Step 6: release the permit (handled by defer), re-inject a copy
		// with the incremented retry count, and ack the original so only the
		// copy is redelivered. outcome.Delay is not applied: the copy is
		// published immediately.
		retries := bus.RetryCount(msg) + 1
		if rErr := h.bus.Republish(subject, msg, retries); rErr != nil {
			h.log.Error("orchestrator: republish failed", "error", rErr)
		}
		h.ackJetStream(msg)

	case handler.OutcomeDeadLetter:
		// Step 7: publish a failure envelope and commit.
		for _, out := range outcome.Outgoing {
			_ = h.bus.Publish(ctx, out)
		}
		_ = h.bus.PublishDeadLetter(ctx, env, outcome.Reason)
		h.ackJetStream(msg)
	}
}

// safeHandle recovers a panicking handler and converts it to a dead-letter
// outcome, per §9's "exception chains as control flow" replacement and
// §7's fatal-internal row.
func (h *Host) safeHandle(hd handler.Handler, ctx context.Context, env domain.Envelope) (out handler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("orchestrator: handler panic recovered", "handler", hd.Name(), "panic", r)
			out = handler.DeadLetter("FATAL_INTERNAL")
		}
	}()
	return hd.Handle(ctx, env)
}

func (h *Host) ackJetStream(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}

func (h *Host) addInFlight(delta int64) {
	h.inFlightMu.Lock()
	h.inFlight += delta
	n := h.inFlight
	h.inFlightMu.Unlock()
	h.rec.SetInFlight(int(n))
}

// InFlight returns the current number of in-progress handler invocations —
// used by the backpressure-bound testable property (§8).
func (h *Host) InFlight() int {
	h.inFlightMu.Lock()
	defer h.inFlightMu.Unlock()
	return int(h.inFlight)
}

// Shutdown waits up to ShutdownGrace for in-flight handlers to finish; any
// still running past the deadline are abandoned (their envelopes remain
// uncommitted and are redelivered) (§5 Cancellation).
func (h *Host) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	deadline := time.NewTimer(h.opts.ShutdownGrace)
	defer deadline.Stop()

	select {
	case <-done:
		return nil
	case <-deadline.C:
		h.log.Warn("orchestrator: shutdown grace window elapsed, abandoning in-flight handlers")
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
