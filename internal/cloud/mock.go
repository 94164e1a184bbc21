package cloud

import "context"

// Mock is a scriptable Client used in orchestrator and front-end tests. Each
// field is called in the order the Orchestrator would call the real
// methods; a nil function fails the test loudly rather than silently
// succeeding, since an unconfigured mock call is a test bug.
type Mock struct {
	LoginFunc  func(ctx context.Context, username, password string) (LoginResult, error)
	CWFunc     func(ctx context.Context, accessToken, pccid string, sign bool) (ChallengeResult, error)
	RWFunc     func(ctx context.Context, accessToken, pccid, cw, rw, transactionID string, sign bool) (string, error)
	StatusFunc func(ctx context.Context, accessToken, transactionID string, sign bool) (Verdict, error)
}

func (m *Mock) IoTLogin(ctx context.Context, username, password string) (LoginResult, error) {
	return m.LoginFunc(ctx, username, password)
}

func (m *Mock) RequestCW(ctx context.Context, accessToken, pccid string, sign bool) (ChallengeResult, error) {
	return m.CWFunc(ctx, accessToken, pccid, sign)
}

func (m *Mock) ReplyRW(ctx context.Context, accessToken, pccid, cw, rw, transactionID string, sign bool) (string, error) {
	return m.RWFunc(ctx, accessToken, pccid, cw, rw, transactionID, sign)
}

func (m *Mock) CheckAuthStatus(ctx context.Context, accessToken, transactionID string, sign bool) (Verdict, error) {
	return m.StatusFunc(ctx, accessToken, transactionID, sign)
}
