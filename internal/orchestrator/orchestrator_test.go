package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sandgrain/gatemediator/internal/cloud"
	"github.com/sandgrain/gatemediator/internal/devicepool"
	"github.com/sandgrain/gatemediator/internal/retry"
	"github.com/sandgrain/gatemediator/internal/status"
	"github.com/sandgrain/gatemediator/internal/transport"
)

func fastCfg() Config {
	return Config{PollInterval: time.Millisecond, PollMaxAttempts: 10}
}

func newHarness(t *testing.T) (*Orchestrator, *transport.MockTransport, *cloud.Mock, *status.Indicator) {
	t.Helper()
	mock := transport.NewMockTransport()
	pool := devicepool.New()
	pool.RegisterStatic("/dev/ttyACM0")

	retryCfg := retry.DefaultConfig()
	retryCfg.BaseBackoff = time.Millisecond
	retryCfg.BackoffCap = 2 * time.Millisecond
	retryCtrl := retry.New(mock, pool, nil, zerolog.Nop(), retryCfg)

	cloudMock := &cloud.Mock{}
	indicator := status.New(nil)

	orch := New(pool, retryCtrl, cloudMock, indicator, Credentials{Username: "u", Password: "p"}, fastCfg(), zerolog.Nop())
	return orch, mock, cloudMock, indicator
}

func identityFrame() []byte {
	decoded := make([]byte, 90)
	for i := 0; i < 16; i++ {
		decoded[5+i] = byte(i)
		decoded[21+i] = byte(0x10 + i)
	}
	return decoded
}

func TestGetIdentityReturnsHexPCCID(t *testing.T) {
	orch, mock, _, indicator := newHarness(t)
	mock.Enqueue("/dev/ttyACM0", transport.Reply{Decoded: identityFrame()})

	identity, err := orch.GetIdentity(context.Background())
	require.NoError(t, err)
	require.Equal(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", identity)
	require.Equal(t, status.Success, indicator.State())
}

func TestFullAuthHappyPathAuthOK(t *testing.T) {
	orch, mock, cloudMock, indicator := newHarness(t)

	mock.Enqueue("/dev/ttyACM0", transport.Reply{Decoded: identityFrame()})
	rwFrame := make([]byte, 90)
	for i := 0; i < 16; i++ {
		rwFrame[71+i] = 0xbb
	}
	mock.Enqueue("/dev/ttyACM0", transport.Reply{Decoded: rwFrame})

	cloudMock.LoginFunc = func(ctx context.Context, u, p string) (cloud.LoginResult, error) {
		return cloud.LoginResult{AccessToken: "tok", IoTID: "gw-1"}, nil
	}
	cloudMock.CWFunc = func(ctx context.Context, token, pccid string, sign bool) (cloud.ChallengeResult, error) {
		return cloud.ChallengeResult{CW: "aabbccddeeff00112233445566778899", TransactionID: "T1"}, nil
	}
	cloudMock.RWFunc = func(ctx context.Context, token, pccid, cw, rw, txID string, sign bool) (string, error) {
		return "T1", nil
	}
	cloudMock.StatusFunc = func(ctx context.Context, token, txID string, sign bool) (cloud.Verdict, error) {
		return cloud.Verdict{Status: cloud.StatusAuthOK}, nil
	}

	result, err := orch.FullAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, cloud.StatusAuthOK, result.Verdict)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", result.RW)
	require.Equal(t, status.Success, indicator.State())
}

func TestAuthenticateClaimIDBranch(t *testing.T) {
	orch, _, cloudMock, _ := newHarness(t)

	cloudMock.LoginFunc = func(ctx context.Context, u, p string) (cloud.LoginResult, error) {
		return cloud.LoginResult{AccessToken: "tok"}, nil
	}
	cloudMock.RWFunc = func(ctx context.Context, token, pccid, cw, rw, txID string, sign bool) (string, error) {
		return txID, nil
	}
	attempts := 0
	cloudMock.StatusFunc = func(ctx context.Context, token, txID string, sign bool) (cloud.Verdict, error) {
		attempts++
		if attempts < 2 {
			return cloud.Verdict{Status: cloud.StatusNotReady}, nil
		}
		return cloud.Verdict{Status: cloud.StatusClaimID, ClaimID: "C42"}, nil
	}

	verdict, claimID, err := orch.Authenticate(context.Background(), "pccid", "cw", "rw", "T1")
	require.NoError(t, err)
	require.Equal(t, cloud.StatusClaimID, verdict)
	require.Equal(t, "C42", claimID)
}

func TestAuthenticateDenyBranch(t *testing.T) {
	orch, _, cloudMock, indicator := newHarness(t)

	cloudMock.LoginFunc = func(ctx context.Context, u, p string) (cloud.LoginResult, error) {
		return cloud.LoginResult{AccessToken: "tok"}, nil
	}
	cloudMock.RWFunc = func(ctx context.Context, token, pccid, cw, rw, txID string, sign bool) (string, error) {
		return txID, nil
	}
	cloudMock.StatusFunc = func(ctx context.Context, token, txID string, sign bool) (cloud.Verdict, error) {
		return cloud.Verdict{Status: "DENIED"}, nil
	}

	_, _, err := orch.Authenticate(context.Background(), "pccid", "cw", "rw", "T1")
	require.ErrorIs(t, err, ErrVerdictDeny)
	require.Equal(t, status.Failure, indicator.State())
}

func TestGetCWPropagatesCloudError(t *testing.T) {
	orch, _, cloudMock, indicator := newHarness(t)
	cloudMock.LoginFunc = func(ctx context.Context, u, p string) (cloud.LoginResult, error) {
		return cloud.LoginResult{}, errSentinelCloud
	}

	_, _, err := orch.GetCW(context.Background(), "pccid")
	require.ErrorIs(t, err, ErrCloudError)
	require.Equal(t, status.Failure, indicator.State())
}

func TestIntToBigEndianBytesMatchesMinimalEncoding(t *testing.T) {
	cases := map[string]int{
		"01":       1,
		"ff":       1,
		"0100":     2, // 256 decimal
		"010000":   3, // 65536 decimal
		"00000001": 1, // leading zeros in the hex string don't widen the value
	}
	for hexCW, wantLen := range cases {
		bytes, err := intToBigEndianBytes(hexCW)
		require.NoError(t, err)
		require.Len(t, bytes, wantLen, "hex=%s", hexCW)
	}
}

var errSentinelCloud = &sentinelErr{"boom"}

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }
