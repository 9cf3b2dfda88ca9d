package engine

import (
	"time"

	"envoy-logger/internal/collector"
	"envoy-logger/internal/sample"
)

type State string

const (
	StateWaiting  State = "waiting"
	StateSampling State = "sampling"
	StateStopped  State = "stopped"
)

// Status is a snapshot of the engine for the API.
type Status struct {
	State     State              `json:"state"`
	Cycles    int                `json:"cycles"`
	Failures  int                `json:"failures"`
	LastCycle time.Time          `json:"last_cycle,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Date      string             `json:"date"`
	Records   int                `json:"records"`
	Daily     int                `json:"daily_records"`
	Power     *sample.SampleData `json:"power,omitempty"`
	Inverters sample.InverterSet `json:"inverters,omitempty"`
	Accepted  sample.InverterSet `json:"accepted,omitempty"`
}

// Status returns a copy of the current status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// IsRunning reports whether the loop has not stopped.
func (e *Engine) IsRunning() bool {
	return e.Status().State != StateStopped
}

// LatestReading returns the power data of the last successful cycle.
func (e *Engine) LatestReading() *sample.SampleData {
	return e.Status().Power
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.status.State = s
	e.mu.Unlock()
}

func (e *Engine) recordCycle(reading collector.Reading, accepted sample.InverterSet, records, daily int) {
	power := reading.Power

	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Cycles++
	e.status.LastCycle = power.Timestamp
	e.status.LastError = ""
	e.status.Date = e.tracker.Date()
	e.status.Records = records
	e.status.Daily = daily
	e.status.Power = &power
	e.status.Inverters = reading.Inverters
	e.status.Accepted = accepted
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Failures++
	e.status.LastError = err.Error()
}
