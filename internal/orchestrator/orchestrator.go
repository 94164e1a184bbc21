// Package orchestrator composes device exchanges and cloud calls into the
// gateway's user-visible authentication operations: reading a token's
// identity, obtaining a challenge word, computing the response word, and
// submitting it for a verdict.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandgrain/gatemediator/internal/cloud"
	"github.com/sandgrain/gatemediator/internal/deviceproto"
	"github.com/sandgrain/gatemediator/internal/devicepool"
	"github.com/sandgrain/gatemediator/internal/retry"
	"github.com/sandgrain/gatemediator/internal/status"
	"github.com/sandgrain/gatemediator/internal/transport"
)

var (
	// ErrCloudError wraps any failure talking to the upstream auth service.
	ErrCloudError = errors.New("orchestrator: cloud error")
	// ErrDeviceError wraps any failure talking to the local device.
	ErrDeviceError = errors.New("orchestrator: device error")
	// ErrVerdictDeny is returned when the cloud resolves a transaction to
	// anything other than AUTH_OK or CLAIM_ID.
	ErrVerdictDeny = errors.New("orchestrator: verdict denied")
)

// Credentials are the gateway's own login for the cloud auth service.
type Credentials struct {
	Username string
	Password string
}

// Config holds the Orchestrator's polling budget for the cloud status check.
type Config struct {
	PollInterval    time.Duration
	PollMaxAttempts int
}

// DefaultConfig mirrors §4.7: poll every 200-300ms for up to 30-40 attempts.
func DefaultConfig() Config {
	return Config{PollInterval: 250 * time.Millisecond, PollMaxAttempts: 35}
}

// Orchestrator is the single logical entry point the front-ends call into.
// It holds no per-request state; every method is safe to call concurrently,
// relying on the Retry Controller and Serializer beneath it to coordinate
// hardware access.
type Orchestrator struct {
	pool   *devicepool.Pool
	retry  *retry.Controller
	cloud  cloud.Client
	status *status.Indicator
	creds  Credentials
	cfg    Config
	log    zerolog.Logger
}

// New builds an Orchestrator.
func New(pool *devicepool.Pool, retryCtrl *retry.Controller, cloudClient cloud.Client, indicator *status.Indicator, creds Credentials, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{pool: pool, retry: retryCtrl, cloud: cloudClient, status: indicator, creds: creds, cfg: cfg, log: log}
}

// guard asserts Idle on entry and Success/Failure on exit, per §4.7's LED
// transition rule, around one orchestration-level operation.
func (o *Orchestrator) guard(fn func() error) error {
	o.status.Set(status.Idle)
	err := fn()
	if err != nil {
		o.status.Set(status.Failure)
		return err
	}
	o.status.Set(status.Success)
	return nil
}

func (o *Orchestrator) acquireDevice() (*devicepool.Device, error) {
	device, err := o.pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
	return device, nil
}

// GetIdentity issues an Identify command and returns the device's PCCID as
// 64 lowercase hex characters.
func (o *Orchestrator) GetIdentity(ctx context.Context) (string, error) {
	var identity string
	err := o.guard(func() error {
		device, err := o.acquireDevice()
		if err != nil {
			return err
		}
		decoded, err := o.retry.Exchange(ctx, device, transport.Frame{Command: deviceproto.CmdIdentify})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		pccid, err := deviceproto.ParseIdentity(decoded)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		identity = string(pccid)
		return nil
	})
	return identity, err
}

// GetCW logs in to the cloud and requests a fresh challenge word for pccid.
func (o *Orchestrator) GetCW(ctx context.Context, pccid string) (cw, transactionID string, err error) {
	err = o.guard(func() error {
		login, lerr := o.cloud.IoTLogin(ctx, o.creds.Username, o.creds.Password)
		if lerr != nil {
			return fmt.Errorf("%w: %v", ErrCloudError, lerr)
		}
		result, cerr := o.cloud.RequestCW(ctx, login.AccessToken, pccid, false)
		if cerr != nil {
			return fmt.Errorf("%w: %v", ErrCloudError, cerr)
		}
		cw = result.CW
		transactionID = result.TransactionID
		return nil
	})
	return cw, transactionID, err
}

// GetRW poses cwHex to the device's challenge-response command and returns
// the computed response word as 32 lowercase hex characters.
//
// cwHex is decoded as a big-endian integer and re-encoded as the minimal
// big-endian byte sequence before being spliced into the CR frame — ported
// directly from the source's intToList, including its exact-power-of-256
// boundary correction (see the decision recorded in the project's grounding
// ledger).
func (o *Orchestrator) GetRW(ctx context.Context, cwHex string) (string, error) {
	var rw string
	err := o.guard(func() error {
		challenge, perr := intToBigEndianBytes(cwHex)
		if perr != nil {
			return fmt.Errorf("%w: %v", ErrDeviceError, perr)
		}
		device, derr := o.acquireDevice()
		if derr != nil {
			return derr
		}
		decoded, err := o.retry.Exchange(ctx, device, transport.Frame{Command: deviceproto.CmdChallengeResponse, Challenge: challenge})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		parsed, err := deviceproto.ParseResponseWord(decoded)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		rw = parsed
		return nil
	})
	return rw, err
}

// Authenticate submits the computed RW back to the cloud and polls for a
// verdict. verdict is "AUTH_OK" or "CLAIM_ID" on success; any other status
// surfaces as ErrVerdictDeny.
func (o *Orchestrator) Authenticate(ctx context.Context, pccid, cw, rw, transactionID string) (verdict, claimID string, err error) {
	err = o.guard(func() error {
		login, lerr := o.cloud.IoTLogin(ctx, o.creds.Username, o.creds.Password)
		if lerr != nil {
			return fmt.Errorf("%w: %v", ErrCloudError, lerr)
		}

		submittedTx, rerr := o.cloud.ReplyRW(ctx, login.AccessToken, pccid, cw, rw, transactionID, false)
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrCloudError, rerr)
		}
		if submittedTx == "" {
			submittedTx = transactionID
		}

		result, verr := o.pollForVerdict(ctx, login.AccessToken, submittedTx)
		if verr != nil {
			return verr
		}
		verdict = result.Status
		claimID = result.ClaimID

		if verdict != cloud.StatusClaimID && verdict != cloud.StatusAuthOK {
			return fmt.Errorf("%w: status=%s", ErrVerdictDeny, verdict)
		}
		return nil
	})
	return verdict, claimID, err
}

func (o *Orchestrator) pollForVerdict(ctx context.Context, accessToken, transactionID string) (cloud.Verdict, error) {
	for attempt := 0; attempt < o.cfg.PollMaxAttempts; attempt++ {
		verdict, err := o.cloud.CheckAuthStatus(ctx, accessToken, transactionID, false)
		if err != nil {
			return cloud.Verdict{}, fmt.Errorf("%w: %v", ErrCloudError, err)
		}
		if verdict.Status != cloud.StatusNotReady {
			return verdict, nil
		}
		select {
		case <-time.After(o.cfg.PollInterval):
		case <-ctx.Done():
			return cloud.Verdict{}, fmt.Errorf("%w: %v", ErrCloudError, ctx.Err())
		}
	}
	return cloud.Verdict{}, fmt.Errorf("%w: status check timed out after %d attempts", ErrCloudError, o.cfg.PollMaxAttempts)
}

// FullAuthResult is the composed outcome of FullAuth's five-step sequence.
type FullAuthResult struct {
	Identity      string
	CW            string
	TransactionID string
	RW            string
	Verdict       string
	ClaimID       string
}

// FullAuth runs get_identity, get_cw, get_rw, and authenticate back to back
// against a freshly read device identity.
func (o *Orchestrator) FullAuth(ctx context.Context) (FullAuthResult, error) {
	var result FullAuthResult

	identity, err := o.GetIdentity(ctx)
	if err != nil {
		return result, err
	}
	result.Identity = identity

	cw, txID, err := o.GetCW(ctx, identity)
	if err != nil {
		return result, err
	}
	result.CW = cw
	result.TransactionID = txID

	rw, err := o.GetRW(ctx, cw)
	if err != nil {
		return result, err
	}
	result.RW = rw

	verdict, claimID, err := o.Authenticate(ctx, identity, cw, rw, txID)
	result.Verdict = verdict
	result.ClaimID = claimID
	if err != nil {
		return result, err
	}
	return result, nil
}

// intToBigEndianBytes decodes a hex challenge word and re-renders it as the
// minimal big-endian byte sequence (no leading zero byte unless the value
// is zero). This matches the original firmware's intToList: despite its
// "ceil(log256(n))" framing, its exact-power-of-256 correction (adding one
// byte back when the naive log-based estimate undershoots) always lands on
// precisely this minimal representation.
func intToBigEndianBytes(hexCW string) ([]byte, error) {
	n, ok := new(big.Int).SetString(hexCW, 16)
	if !ok {
		return nil, fmt.Errorf("invalid challenge word hex: %q", hexCW)
	}
	if n.Sign() == 0 {
		return []byte{0}, nil
	}
	return n.Bytes(), nil
}
