package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Environment selects which CyberRock deployment the HTTPClient talks to.
type Environment string

const (
	// EnvironmentUAT is the pre-production CyberRock tenant.
	EnvironmentUAT Environment = "UAT"
	// EnvironmentSandbox is the fully isolated test tenant.
	EnvironmentSandbox Environment = "SANDBOX"
)

func baseURL(env Environment) string {
	switch env {
	case EnvironmentSandbox:
		return "https://iot-api.sandbox.sandgrain.io"
	default:
		return "https://iot-api-uat.sandgrain.dev"
	}
}

// HTTPClient is the Client implementation that talks to the real CyberRock
// IoT API over HTTPS, retrying transient failures with backoff.
type HTTPClient struct {
	base    string
	extra   map[string]string
	http    *retryablehttp.Client
	timeout time.Duration
}

// NewHTTPClient builds an HTTPClient for the given environment. extraHeaders
// carries the access-gateway (Cloudflare) headers CyberRock expects on every
// request, supplied by configuration rather than hardcoded.
func NewHTTPClient(env Environment, extraHeaders map[string]string, log zerolog.Logger) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.Logger = &leveledLogAdapter{log: log}
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second

	return &HTTPClient{
		base:    baseURL(env),
		extra:   extraHeaders,
		http:    rc,
		timeout: 30 * time.Second,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, headers map[string]string, query map[string]string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloud: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	url := c.base + path
	if len(query) > 0 {
		q := "?"
		first := true
		for k, v := range query {
			if !first {
				q += "&"
			}
			q += k + "=" + v
			first = false
		}
		url += q
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCloudUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.extra {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCloudUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCloudUnavailable, err)
	}

	var parsed map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("%w: decoding response: %v", ErrCloudUnavailable, err)
		}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrCloudUnavailable, resp.StatusCode)
	}
	return parsed, nil
}

// IoTLogin exchanges gateway credentials for a bearer token and iot id.
func (c *HTTPClient) IoTLogin(ctx context.Context, username, password string) (LoginResult, error) {
	body := map[string]any{"username": username, "password": password}
	data, err := c.do(ctx, http.MethodPost, "/api/auth/iotLogin", nil, nil, body)
	if err != nil {
		return LoginResult{}, err
	}
	token, _ := data["accessToken"].(string)
	iotID, _ := data["iotId"].(string)
	return LoginResult{AccessToken: token, IoTID: iotID}, nil
}

// RequestCW asks the auth service for a fresh challenge word for pccid.
func (c *HTTPClient) RequestCW(ctx context.Context, accessToken, pccid string, requestSignedResponse bool) (ChallengeResult, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	body := map[string]any{"requestSignedResponse": requestSignedResponse, "PCCID": pccid}
	data, err := c.do(ctx, http.MethodPost, "/api/iot/requestCW", headers, nil, body)
	if err != nil {
		return ChallengeResult{}, err
	}
	cw, _ := data["CW"].(string)
	txID, _ := data["transactionId"].(string)
	return ChallengeResult{CW: cw, TransactionID: txID}, nil
}

// ReplyRW submits the device-computed response word back to the auth
// service and returns the transaction id it should be polled under.
func (c *HTTPClient) ReplyRW(ctx context.Context, accessToken, pccid, cw, rw, transactionID string, requestSignedResponse bool) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	body := map[string]any{
		"requestSignedResponse": requestSignedResponse,
		"PCCID":                 pccid,
		"CW":                    cw,
		"RW":                    rw,
		"transactionId":         transactionID,
	}
	data, err := c.do(ctx, http.MethodPost, "/api/iot/replyRW", headers, nil, body)
	if err != nil {
		return "", err
	}
	txID, _ := data["transactionId"].(string)
	return txID, nil
}

// CheckAuthStatus polls for the terminal verdict of a transaction. Callers
// are expected to retry while Verdict.Status == StatusNotReady; this method
// performs a single poll rather than looping internally, so the Orchestrator
// controls the overall timeout.
func (c *HTTPClient) CheckAuthStatus(ctx context.Context, accessToken, transactionID string, requestSignedResponse bool) (Verdict, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	query := map[string]string{"transactionId": transactionID}
	body := map[string]any{"requestSignedResponse": requestSignedResponse}
	data, err := c.do(ctx, http.MethodGet, "/api/iot/checkAuthStatus", headers, query, body)
	if err != nil {
		return Verdict{}, err
	}
	status, _ := data["status"].(string)
	claimID, _ := data["claimId"].(string)
	return Verdict{Status: status, ClaimID: claimID}, nil
}

// leveledLogAdapter routes retryablehttp's internal retry/backoff logging
// through zerolog instead of the standard logger it defaults to.
type leveledLogAdapter struct{ log zerolog.Logger }

func (a *leveledLogAdapter) Error(msg string, kv ...any) { a.log.Error().Fields(any(kv)).Msg(msg) }
func (a *leveledLogAdapter) Info(msg string, kv ...any)  { a.log.Info().Fields(any(kv)).Msg(msg) }
func (a *leveledLogAdapter) Debug(msg string, kv ...any) { a.log.Debug().Fields(any(kv)).Msg(msg) }
func (a *leveledLogAdapter) Warn(msg string, kv ...any)  { a.log.Warn().Fields(any(kv)).Msg(msg) }
