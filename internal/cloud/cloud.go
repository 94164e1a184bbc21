// Package cloud is the client for the Sandgrain CyberRock IoT auth service:
// it exchanges a device's challenge word and response word for a verdict,
// over plain bearer-token HTTPS.
package cloud

import (
	"context"
	"errors"
)

// ErrCloudUnavailable wraps any failure talking to the auth service (DNS,
// connection refused, timeout, an HTTP status of 400 or above, or a
// response body that is not valid JSON).
var ErrCloudUnavailable = errors.New("cloud: auth service unavailable")

// ErrUnexpectedStatus names an auth-service status value outside the known
// set. HTTPClient does not return it: CheckAuthStatus passes every status
// through unchanged in Verdict.Status.
var ErrUnexpectedStatus = errors.New("cloud: unexpected status from auth service")

// LoginResult is the outcome of iotLogin.
type LoginResult struct {
	AccessToken string
	IoTID       string
}

// ChallengeResult is the outcome of requestCW: the challenge word the gateway
// must feed to the device, and the transaction id that correlates the rest
// of the authentication round.
type ChallengeResult struct {
	CW            string
	TransactionID string
}

// Verdict is the terminal result of an authentication attempt: a polled
// "not ready yet" transitions into AUTH_OK (success), CLAIM_ID (success,
// with a claim id), or any other status, which is a rejection.
type Verdict struct {
	Status  string // "CLAIM_ID" or "AUTH_OK" or "DENIED"
	ClaimID string
}

const (
	// StatusNotReady is the transient polling status while the cloud service
	// is still waiting on an upstream verdict.
	StatusNotReady = "NOT_READY"
	// StatusClaimID indicates the device proved possession and was granted a claim id.
	StatusClaimID = "CLAIM_ID"
	// StatusAuthOK indicates the device proved possession with no claim id issued.
	StatusAuthOK = "AUTH_OK"
)

// Client is the CyberRock IoT API surface the Orchestrator depends on. An
// HTTP-backed implementation and a Mock (for tests) both satisfy it.
type Client interface {
	IoTLogin(ctx context.Context, username, password string) (LoginResult, error)
	RequestCW(ctx context.Context, accessToken, pccid string, requestSignedResponse bool) (ChallengeResult, error)
	ReplyRW(ctx context.Context, accessToken, pccid, cw, rw, transactionID string, requestSignedResponse bool) (string, error)
	CheckAuthStatus(ctx context.Context, accessToken, transactionID string, requestSignedResponse bool) (Verdict, error)
}
