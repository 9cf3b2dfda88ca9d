package collector

import (
	"context"
	"fmt"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sample"

	"github.com/rs/zerolog"
)

const (
	DefaultRetries   = 10
	DefaultRetryWait = 5 * time.Second
)

// Device is the part of the gateway client the collector reads from.
type Device interface {
	FetchPower(ctx context.Context) (sample.SampleData, error)
	FetchInverters(ctx context.Context) (sample.InverterSet, error)
}

// Reading is one complete sample: power and inverters from the same
// attempt.
type Reading struct {
	Power     sample.SampleData  `json:"power"`
	Inverters sample.InverterSet `json:"inverters"`
}

// Outcome classifies a single collection attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one attempt. Reading is set only on success,
// Err only otherwise.
type Result struct {
	Outcome Outcome
	Reading Reading
	Err     error
}

type Collector struct {
	device    Device
	retries   int
	retryWait time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// CollectorConfig configures a Collector. A RetryWait of zero retries
// immediately. Sleep replaces the wait between attempts in tests.
type CollectorConfig struct {
	Device    Device
	Retries   int
	RetryWait time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryWait < 0 {
		cfg.RetryWait = DefaultRetryWait
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Collector{
		device:    cfg.Device,
		retries:   cfg.Retries,
		retryWait: cfg.RetryWait,
		sleep:     cfg.Sleep,
		log:       logger.With("collector"),
	}
}

// Collect takes one sample, retrying attempts that time out. Any other
// failure is returned at once. When every attempt times out the error has
// code ErrSampleTimeout.
func (c *Collector) Collect(ctx context.Context) (Reading, error) {
	for attempt := 1; attempt <= c.retries; attempt++ {
		res := c.Attempt(ctx)
		switch res.Outcome {
		case OutcomeSuccess:
			return res.Reading, nil
		case OutcomeFatal:
			return Reading{}, res.Err
		}

		c.log.Warn().
			Int("attempt", attempt).
			Int("max", c.retries).
			Err(res.Err).
			Msg("Envoy request timed out")

		if attempt == c.retries {
			break
		}
		if err := c.sleep(ctx, c.retryWait); err != nil {
			return Reading{}, errors.Wrap(errors.ErrOperationCanceled, err)
		}
	}

	return Reading{}, errors.New(errors.ErrSampleTimeout)
}

// Attempt fetches power then inverters once. A failure of either fetch
// fails the whole attempt.
func (c *Collector) Attempt(ctx context.Context) Result {
	power, err := c.device.FetchPower(ctx)
	if err != nil {
		return failed(fmt.Errorf("fetch power: %w", err))
	}

	inverters, err := c.device.FetchInverters(ctx)
	if err != nil {
		return failed(fmt.Errorf("fetch inverters: %w", err))
	}

	return Result{
		Outcome: OutcomeSuccess,
		Reading: Reading{Power: power, Inverters: inverters},
	}
}

func failed(err error) Result {
	if errors.HasCode(err, errors.ErrTransientTimeout) {
		return Result{Outcome: OutcomeTimeout, Err: err}
	}
	return Result{Outcome: OutcomeFatal, Err: err}
}

// Retries returns the attempt budget.
func (c *Collector) Retries() int {
	return c.retries
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
