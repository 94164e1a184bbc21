// Package devicepool enumerates attached cryptographic identity tokens at
// startup, tracks per-device health, and selects which device the next
// operation should use.
package devicepool

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrNoDevices is returned by Acquire when the pool has no usable device.
var ErrNoDevices = errors.New("devicepool: no devices available")

// Device is one attached token, addressable by its serial endpoint.
type Device struct {
	ID       int
	Endpoint string

	mu                  sync.Mutex
	lastOp              time.Time
	consecutiveFailures int
	totalOps            int
	successfulOps       int
}

// Snapshot is an immutable copy of a Device's health counters, safe to read
// without holding the device's lock (used by the HTTP health endpoint).
type Snapshot struct {
	ID                  int
	Endpoint            string
	ConsecutiveFailures int
	TotalOps            int
	SuccessfulOps       int
}

func (d *Device) snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		ID:                  d.ID,
		Endpoint:            d.Endpoint,
		ConsecutiveFailures: d.consecutiveFailures,
		TotalOps:            d.totalOps,
		SuccessfulOps:       d.successfulOps,
	}
}

// Prober briefly opens and closes a candidate endpoint to confirm a device
// is actually attached there. Implemented by transport.ProbeEndpoint.
type Prober func(endpoint string) bool

// Pool tracks the set of registered devices and the policy for choosing
// which one services the next operation.
type Pool struct {
	mu             sync.Mutex
	devices        []*Device
	nextID         int
	resetThreshold int
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithResetThreshold overrides the consecutive-failure count at or above
// which Acquire skips a device until a reset has been attempted.
func WithResetThreshold(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.resetThreshold = n
		}
	}
}

// DefaultResetThreshold mirrors the Retry Controller's default reset-after-failures budget.
const DefaultResetThreshold = 3

// New builds an empty Pool. Call Initialize to enumerate devices.
func New(opts ...Option) *Pool {
	p := &Pool{resetThreshold: DefaultResetThreshold}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initialize scans candidates (an OS-specific glob of character-device
// paths) and registers each endpoint that probe confirms is live.
func (p *Pool) Initialize(candidates []string, probe Prober) error {
	for _, pattern := range candidates {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, endpoint := range matches {
			if probe != nil && !probe(endpoint) {
				continue
			}
			p.register(endpoint)
		}
	}
	return nil
}

// RegisterStatic adds a device endpoint without probing it first, used in
// tests and for statically-configured deployments.
func (p *Pool) RegisterStatic(endpoint string) *Device {
	return p.register(endpoint)
}

func (p *Pool) register(endpoint string) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.devices {
		if d.Endpoint == endpoint {
			return d
		}
	}
	d := &Device{ID: p.nextID, Endpoint: endpoint}
	p.nextID++
	p.devices = append(p.devices, d)
	return d
}

// Len returns the number of registered devices.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.devices)
}

// Acquire selects the device to use for the next operation: the
// least-unhealthy device (smallest consecutive-failure count, ties broken
// by device id), skipping any device whose failure count has crossed the
// reset threshold until a reset has been attempted on it.
func (p *Pool) Acquire() (*Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.devices) == 0 {
		return nil, ErrNoDevices
	}

	candidates := make([]*Device, 0, len(p.devices))
	for _, d := range p.devices {
		d.mu.Lock()
		healthy := d.consecutiveFailures < p.resetThreshold
		d.mu.Unlock()
		if healthy {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		// Every device is over threshold; offer the least-bad one so the
		// retry controller has something to reset.
		candidates = append([]*Device{}, p.devices...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		fi, fj := candidates[i].failureCount(), candidates[j].failureCount()
		if fi != fj {
			return fi < fj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

func (d *Device) failureCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures
}

// FailureCount returns the device's current consecutive-failure count.
func (d *Device) FailureCount() int { return d.failureCount() }

// MarkSuccess resets the device's consecutive-failure counter and bumps its
// operation totals.
func (p *Pool) MarkSuccess(d *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures = 0
	d.totalOps++
	d.successfulOps++
	d.lastOp = time.Now()
}

// MarkFailure increments the device's consecutive-failure counter.
func (p *Pool) MarkFailure(d *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures++
	d.totalOps++
	d.lastOp = time.Now()
}

// ResetFailures clears a device's consecutive-failure counter, called after
// the retry controller performs a line-level reset.
func (p *Pool) ResetFailures(d *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures = 0
}

// Snapshots returns a health summary of every registered device, in device-id order.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	devices := append([]*Device{}, p.devices...)
	p.mu.Unlock()

	out := make([]Snapshot, len(devices))
	for i, d := range devices {
		out[i] = d.snapshot()
	}
	return out
}
