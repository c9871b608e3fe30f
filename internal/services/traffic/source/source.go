// Package source feeds the aggregation engine with traffic deltas, either
// consumed from the upstream Kafka topic or synthesized on a fixed tick when
// the upstream feed is unavailable.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/louisbranch/storepulse/internal/services/traffic/domain"
)

// State names the adapter's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateSimulating   State = "simulating"
)

// DefaultTickInterval paces synthetic delta generation.
const DefaultTickInterval = 5 * time.Second

// simulatedMaxMovement bounds synthetic in/out counts to 0..2 per tick.
const simulatedMaxMovement = 3

// Sink consumes one parsed delta. Errors are logged by the adapter and never
// stop its loop.
type Sink interface {
	HandleDelta(ctx context.Context, delta domain.TrafficDelta) error
}

// Stream is the upstream message feed. Fetch blocks until the next raw
// payload, the stream fails, or ctx ends.
type Stream interface {
	Fetch(ctx context.Context) ([]byte, error)
	Close() error
}

// Adapter drives deltas into the sink. With a stream it consumes upstream
// messages; without one, or after the stream fails, it simulates traffic.
// Once simulating it does not probe the real source again; that fallback is
// a deliberate policy, observers keep seeing plausible data instead of none.
type Adapter struct {
	stream   Stream
	sink     Sink
	storeIDs []int
	tick     time.Duration
	clock    func() time.Time
	rng      *rand.Rand

	mu    sync.Mutex
	state State
}

// Option configures adapter construction.
type Option func(*Adapter)

// WithStream attaches an upstream feed. A nil stream leaves the adapter in
// simulation-only mode.
func WithStream(stream Stream) Option {
	return func(a *Adapter) {
		a.stream = stream
	}
}

// WithTickInterval overrides the synthetic generation pace.
func WithTickInterval(tick time.Duration) Option {
	return func(a *Adapter) {
		if tick > 0 {
			a.tick = tick
		}
	}
}

// WithClock overrides the wall clock used to stamp synthetic deltas and to
// anchor upstream time-of-day stamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithRand fixes the random source used by the simulator.
func WithRand(rng *rand.Rand) Option {
	return func(a *Adapter) {
		if rng != nil {
			a.rng = rng
		}
	}
}

// New creates an adapter feeding the sink with deltas for the given stores.
func New(sink Sink, storeIDs []int, opts ...Option) *Adapter {
	a := &Adapter{
		sink:     sink,
		storeIDs: storeIDs,
		tick:     DefaultTickInterval,
		clock:    time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// State reports the adapter's current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// Run drives the adapter until ctx ends. Transport failures fall back to
// simulation; per-message failures are logged and dropped.
func (a *Adapter) Run(ctx context.Context) error {
	if a.stream == nil {
		log.Printf("source: no upstream feed configured, simulating traffic every %s", a.tick)
		a.setState(StateSimulating)
		return a.simulate(ctx)
	}

	a.setState(StateConnecting)
	defer func() { _ = a.stream.Close() }()

	for {
		payload, err := a.stream.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.setState(StateDisconnected)
				return nil
			}
			log.Printf("source: upstream feed failed: %v", err)
			a.setState(StateDisconnected)
			log.Printf("source: falling back to simulated traffic every %s", a.tick)
			a.setState(StateSimulating)
			return a.simulate(ctx)
		}
		a.setState(StateStreaming)

		delta, err := ParseWireMessage(payload, a.clock())
		if err != nil {
			log.Printf("source: dropping malformed message: %v", err)
			continue
		}
		if err := a.sink.HandleDelta(ctx, delta); err != nil {
			log.Printf("source: handle delta for store %d: %v", delta.StoreID, err)
		}
	}
}

// simulate emits one synthetic delta per tick for a randomly chosen store.
// Ticks with no movement are suppressed.
func (a *Adapter) simulate(ctx context.Context) error {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.setState(StateDisconnected)
			return nil
		case <-ticker.C:
			delta, ok := a.syntheticDelta()
			if !ok {
				continue
			}
			if err := a.sink.HandleDelta(ctx, delta); err != nil {
				log.Printf("source: handle synthetic delta for store %d: %v", delta.StoreID, err)
			}
		}
	}
}

// syntheticDelta draws one small random movement. ok is false when the tick
// produced no movement at all.
func (a *Adapter) syntheticDelta() (delta domain.TrafficDelta, ok bool) {
	if len(a.storeIDs) == 0 {
		return domain.TrafficDelta{}, false
	}

	a.mu.Lock()
	storeID := a.storeIDs[a.rng.Intn(len(a.storeIDs))]
	customersIn := a.rng.Intn(simulatedMaxMovement)
	customersOut := a.rng.Intn(simulatedMaxMovement)
	a.mu.Unlock()

	if customersIn == 0 && customersOut == 0 {
		return domain.TrafficDelta{}, false
	}
	return domain.TrafficDelta{
		StoreID:      storeID,
		CustomersIn:  customersIn,
		CustomersOut: customersOut,
		OccurredAt:   a.clock(),
	}, true
}

// wireMessage is the upstream JSON envelope.
type wireMessage struct {
	StoreID      int    `json:"store_id"`
	CustomersIn  int    `json:"customers_in"`
	CustomersOut int    `json:"customers_out"`
	TimeStamp    string `json:"time_stamp"`
}

// ParseWireMessage decodes one upstream payload into a delta, anchoring the
// "HH.mm.ss" time-of-day stamp to the reference day.
func ParseWireMessage(payload []byte, reference time.Time) (domain.TrafficDelta, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.TrafficDelta{}, fmt.Errorf("decode message: %w", err)
	}
	occurredAt, err := domain.ParseWireClock(msg.TimeStamp, reference)
	if err != nil {
		return domain.TrafficDelta{}, err
	}
	return domain.TrafficDelta{
		StoreID:      msg.StoreID,
		CustomersIn:  msg.CustomersIn,
		CustomersOut: msg.CustomersOut,
		OccurredAt:   occurredAt,
	}, nil
}
