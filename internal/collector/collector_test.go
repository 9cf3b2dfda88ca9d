package collector_test

import (
	"context"
	"io"
	"testing"
	"time"

	"envoy-logger/internal/collector"
	"envoy-logger/internal/errors"
	"envoy-logger/internal/sample"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDevice fails the power fetch with errs[i] on attempt i and
// succeeds once the script runs out.
type scriptedDevice struct {
	powerErrs    []error
	inverterErrs []error
	powerCalls   int
	invCalls     int
}

func (d *scriptedDevice) FetchPower(context.Context) (sample.SampleData, error) {
	i := d.powerCalls
	d.powerCalls++
	if i < len(d.powerErrs) && d.powerErrs[i] != nil {
		return sample.SampleData{}, d.powerErrs[i]
	}
	return sample.SampleData{Timestamp: time.Unix(int64(100+i), 0)}, nil
}

func (d *scriptedDevice) FetchInverters(context.Context) (sample.InverterSet, error) {
	i := d.invCalls
	d.invCalls++
	if i < len(d.inverterErrs) && d.inverterErrs[i] != nil {
		return nil, d.inverterErrs[i]
	}
	return sample.InverterSet{"A": {Serial: "A", ReportTime: 1}}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func timeoutErr() error {
	return errors.Wrap(errors.ErrTransientTimeout, context.DeadlineExceeded)
}

func newCollector(d collector.Device, s *sleepRecorder) *collector.Collector {
	return collector.NewCollector(collector.CollectorConfig{
		Device:    d,
		Retries:   10,
		RetryWait: 5 * time.Second,
		Sleep:     s.sleep,
	})
}

func TestCollectSucceedsAfterTimeouts(t *testing.T) {
	dev := &scriptedDevice{powerErrs: []error{timeoutErr(), timeoutErr()}}
	sleeps := &sleepRecorder{}

	reading, err := newCollector(dev, sleeps).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeps.waits)
	assert.Equal(t, 3, dev.powerCalls)
	assert.Equal(t, time.Unix(102, 0), reading.Power.Timestamp)
	assert.Len(t, reading.Inverters, 1)
}

func TestCollectExhaustsRetries(t *testing.T) {
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = timeoutErr()
	}
	dev := &scriptedDevice{powerErrs: errs}
	sleeps := &sleepRecorder{}
	c := newCollector(dev, sleeps)

	reading, err := c.Collect(context.Background())
	require.Error(t, err)

	assert.Equal(t, errors.ErrSampleTimeout, errors.CodeOf(err))
	assert.Equal(t, "Sample collection timed out.", err.Error())
	assert.Equal(t, c.Retries(), dev.powerCalls)
	assert.Len(t, sleeps.waits, c.Retries()-1)
	assert.Equal(t, collector.Reading{}, reading)
}

func TestCollectPartialSuccessRetriedAsUnit(t *testing.T) {
	dev := &scriptedDevice{inverterErrs: []error{timeoutErr()}}
	sleeps := &sleepRecorder{}

	_, err := newCollector(dev, sleeps).Collect(context.Background())
	require.NoError(t, err)

	// power is fetched again with the inverters
	assert.Equal(t, 2, dev.powerCalls)
	assert.Equal(t, 2, dev.invCalls)
	assert.Len(t, sleeps.waits, 1)
}

func TestCollectFatalNotRetried(t *testing.T) {
	for _, code := range []errors.ErrorCode{
		errors.ErrAuthentication,
		errors.ErrMalformedPayload,
		errors.ErrDeviceHTTP,
	} {
		t.Run(string(code), func(t *testing.T) {
			dev := &scriptedDevice{powerErrs: []error{errors.Wrap(code, io.EOF)}}
			sleeps := &sleepRecorder{}

			_, err := newCollector(dev, sleeps).Collect(context.Background())
			require.Error(t, err)

			assert.Equal(t, code, errors.CodeOf(err))
			assert.Equal(t, 1, dev.powerCalls)
			assert.Empty(t, sleeps.waits)
		})
	}
}

func TestAttemptOutcome(t *testing.T) {
	c := newCollector(&scriptedDevice{powerErrs: []error{timeoutErr(), errors.New(errors.ErrDeviceHTTP)}}, &sleepRecorder{})

	res := c.Attempt(context.Background())
	assert.Equal(t, collector.OutcomeTimeout, res.Outcome)
	assert.Error(t, res.Err)

	res = c.Attempt(context.Background())
	assert.Equal(t, collector.OutcomeFatal, res.Outcome)

	res = c.Attempt(context.Background())
	assert.Equal(t, collector.OutcomeSuccess, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, "success", res.Outcome.String())
}

func TestCollectCanceledDuringRetryWait(t *testing.T) {
	dev := &scriptedDevice{powerErrs: []error{timeoutErr()}}
	c := collector.NewCollector(collector.CollectorConfig{
		Device:    dev,
		Retries:   3,
		RetryWait: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrOperationCanceled, errors.CodeOf(err))
}
