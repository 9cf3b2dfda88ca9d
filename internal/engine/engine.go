package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"envoy-logger/internal/collector"
	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/rollup"
	"envoy-logger/internal/sample"
	"envoy-logger/internal/sink"

	"github.com/rs/zerolog"
)

const DefaultInterval = 5 * time.Second

// Sampler takes one complete reading from the gateway.
type Sampler interface {
	Collect(ctx context.Context) (collector.Reading, error)
}

// Engine runs sampling cycles aligned to wall-clock multiples of the
// interval and writes the results to a sink.
type Engine struct {
	sampler     Sampler
	sink        sink.Sink
	source      string
	tags        map[string]map[string]string
	interval    time.Duration
	now         func() time.Time
	after       func(d time.Duration) <-chan time.Time
	dedup       *sample.Deduplicator
	tracker     *rollup.Tracker
	accumulator *rollup.Accumulator
	log         zerolog.Logger

	mu     sync.RWMutex
	status Status
}

type Config struct {
	Sampler Sampler
	Sink    sink.Sink
	// Integrator answers the daily energy query. When nil the engine
	// integrates its own high-rate records.
	Integrator   sink.Integrator
	Source       string
	Serials      []string
	InverterTags map[string]map[string]string
	Interval     time.Duration
	Location     *time.Location
	// Now and After replace the wall clock in tests.
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

func New(cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = time.After
	}

	e := &Engine{
		sampler:  cfg.Sampler,
		sink:     cfg.Sink,
		source:   cfg.Source,
		tags:     cfg.InverterTags,
		interval: cfg.Interval,
		now:      cfg.Now,
		after:    cfg.After,
		dedup:    sample.NewDeduplicator(),
		log:      logger.With("engine"),
	}

	integrator := cfg.Integrator
	if integrator == nil {
		e.accumulator = rollup.NewAccumulator(24 * time.Hour)
		integrator = e.accumulator
	}

	e.tracker = rollup.NewTracker(rollup.TrackerConfig{
		Source:       cfg.Source,
		Serials:      cfg.Serials,
		InverterTags: cfg.InverterTags,
		Integrator:   integrator,
		Now:          cfg.Now,
		Location:     cfg.Location,
	})
	e.status = Status{State: StateWaiting, Date: e.tracker.Date()}

	return e
}

// Run samples until ctx is canceled or a cycle fails fatally. Cancellation
// is observed only between cycles; a cycle in progress always completes.
// Returns nil after cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Dur("interval", e.interval).Str("source", e.source).Msg("sampling started")

	for {
		e.setState(StateWaiting)
		wait := NextWait(e.now(), e.interval)

		select {
		case <-ctx.Done():
			e.setState(StateStopped)
			e.log.Info().Msg("sampling stopped")
			return nil
		case <-e.after(wait):
		}

		e.setState(StateSampling)
		err := e.Cycle(context.WithoutCancel(ctx))
		if err == nil {
			continue
		}
		if IsFatal(err) {
			e.setState(StateStopped)
			e.recordError(err)
			e.log.Error().Err(err).Str("code", string(errors.CodeOf(err))).Msg("fatal error, stopping")
			return err
		}
		e.recordError(err)
		e.log.Error().Err(err).Str("code", string(errors.CodeOf(err))).Msg("sampling cycle failed")
	}
}

// Cycle runs one collect, deduplicate, write and rollup pass.
func (e *Engine) Cycle(ctx context.Context) error {
	reading, err := e.sampler.Collect(ctx)
	if err != nil {
		return err
	}

	accepted := e.dedup.Filter(reading.Inverters)
	records := sink.HighRateRecords(e.source, reading.Power, accepted, e.tags)

	if err := e.sink.WriteHighRate(ctx, records); err != nil {
		return sinkError(errors.ErrSinkWrite, fmt.Errorf("write high-rate: %w", err))
	}
	if e.accumulator != nil {
		e.accumulator.Observe(records)
	}

	daily, err := e.tracker.CheckAndMaybeAggregate(ctx, reading.Power)
	if err != nil {
		return sinkError(errors.ErrSinkQuery, err)
	}
	if len(daily) > 0 {
		if err := e.sink.WriteLowRate(ctx, daily); err != nil {
			return sinkError(errors.ErrSinkWrite, fmt.Errorf("write low-rate: %w", err))
		}
		e.log.Info().Int("records", len(daily)).Str("date", e.tracker.Date()).Msg("daily summary written")
	}

	e.recordCycle(reading, accepted, len(records), len(daily))
	e.log.Debug().
		Int("records", len(records)).
		Int("inverters", len(reading.Inverters)).
		Int("accepted", len(accepted)).
		Msg("cycle complete")
	return nil
}

// IsFatal reports whether err must stop the process. Malformed payloads and
// rejected or unreachable gateway requests only fail their cycle.
func IsFatal(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrMalformedPayload, errors.ErrDeviceHTTP, errors.ErrDeviceUnreachable:
		return false
	default:
		return true
	}
}

// sinkError keeps a code already present on err.
func sinkError(code errors.ErrorCode, err error) error {
	if errors.CodeOf(err) != "" {
		return err
	}
	return errors.Wrap(code, err)
}

func (e *Engine) Interval() time.Duration {
	return e.interval
}
