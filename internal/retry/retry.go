// Package retry wraps a Transport exchange with bounded retries, exponential
// backoff, per-device line reset on sustained failure, and classification of
// outcomes. It never retries forever: every call has a finite attempt
// budget and reports exhaustion as ErrDeviceUnavailable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandgrain/gatemediator/internal/deviceproto"
	"github.com/sandgrain/gatemediator/internal/devicepool"
	"github.com/sandgrain/gatemediator/internal/transport"
)

// ErrDeviceUnavailable is returned once the retry budget is exhausted. The
// last underlying cause is wrapped alongside it, so errors.Is and errors.As
// can inspect it.
var ErrDeviceUnavailable = errors.New("retry: device unavailable after retries")

// Config holds the retry budget. Defaults mirror §4.5 of the mediation
// protocol: bounded attempts, exponential backoff capped at a few seconds,
// and a stricter allowance for errors that signal protocol drift rather
// than a transient link hiccup.
type Config struct {
	MaxAttempts              int
	ProtocolDriftMaxAttempts int
	BaseBackoff              time.Duration
	Multiplier               float64
	BackoffCap               time.Duration
	ResetThreshold           int
}

// DefaultConfig returns the package defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:              4,
		ProtocolDriftMaxAttempts: 2,
		BaseBackoff:              300 * time.Millisecond,
		Multiplier:               2,
		BackoffCap:               3 * time.Second,
		ResetThreshold:           devicepool.DefaultResetThreshold,
	}
}

// LineResetter performs a transport-level device reset (toggling
// line-discipline signals) between retries once a device's failure count
// crosses the reset threshold. *transport.SerialTransport implements this.
type LineResetter interface {
	ResetLine(ctx context.Context, endpoint string) error
}

// Controller executes one Transport exchange with retries, backoff, and
// device health bookkeeping.
type Controller struct {
	cfg      Config
	next     transport.Transport
	resetter LineResetter
	pool     *devicepool.Pool
	log      zerolog.Logger
}

// New builds a Controller. resetter may be nil, in which case the reset
// step is skipped (used in tests with a mock transport).
func New(next transport.Transport, pool *devicepool.Pool, resetter LineResetter, log zerolog.Logger, cfg Config) *Controller {
	return &Controller{cfg: cfg, next: next, resetter: resetter, pool: pool, log: log}
}

func isProtocolDrift(err error) bool {
	return errors.Is(err, deviceproto.ErrShortFrame) || errors.Is(err, deviceproto.ErrInvalidHex)
}

func isRetriable(err error) bool {
	return errors.Is(err, transport.ErrPortOpen) ||
		errors.Is(err, transport.ErrWrite) ||
		errors.Is(err, transport.ErrNoData) ||
		isProtocolDrift(err)
}

// Exchange performs the device exchange with retries, returning the decoded
// reply or ErrDeviceUnavailable once the budget is exhausted.
func (c *Controller) Exchange(ctx context.Context, device *devicepool.Device, frame transport.Frame) ([]byte, error) {
	var lastErr error
	driftAttempts := 0

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, err := c.next.Exchange(ctx, device.Endpoint, frame)
		if err == nil {
			c.pool.MarkSuccess(device)
			return result, nil
		}

		lastErr = err
		c.pool.MarkFailure(device)
		c.log.Warn().Err(err).Str("endpoint", device.Endpoint).Int("attempt", attempt).Msg("device exchange failed")

		if isProtocolDrift(err) {
			driftAttempts++
			if driftAttempts >= c.cfg.ProtocolDriftMaxAttempts {
				break
			}
		} else if !isRetriable(err) {
			break
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		if device.FailureCount() >= c.cfg.ResetThreshold && c.resetter != nil {
			if rerr := c.resetter.ResetLine(ctx, device.Endpoint); rerr == nil {
				c.pool.ResetFailures(device)
			}
		}

		if err := sleepBackoff(ctx, c.cfg, attempt); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, lastErr)
}

func sleepBackoff(ctx context.Context, cfg Config, attempt int) error {
	delay := backoffDelay(cfg, attempt)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseBackoff)
	for i := 1; i < attempt; i++ {
		delay *= cfg.Multiplier
	}
	if time.Duration(delay) > cfg.BackoffCap {
		return cfg.BackoffCap
	}
	return time.Duration(delay)
}
