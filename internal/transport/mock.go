package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sandgrain/gatemediator/internal/deviceproto"
)

// Reply is one scripted response for a MockTransport, keyed to the order
// exchanges are observed for a given endpoint.
type Reply struct {
	Decoded []byte
	Err     error
	Delay   time.Duration
}

// MockTransport is the Transport implementation used by tests in place of
// real hardware, per the "duck typed" Transport variants the orchestrator
// depends on.
type MockTransport struct {
	mu        sync.Mutex
	queues    map[string][]Reply
	inFlight  int
	maxInFlight int
	calls     []Call
}

// Call records one observed Exchange invocation, for assertions about
// ordering and overlap in concurrency tests.
type Call struct {
	Endpoint string
	Command  deviceproto.Command
	Start    time.Time
	End      time.Time
}

// NewMockTransport builds an empty MockTransport. Use Enqueue to script replies.
func NewMockTransport() *MockTransport {
	return &MockTransport{queues: make(map[string][]Reply)}
}

// Enqueue appends a scripted reply for the given endpoint, consumed in FIFO order.
func (m *MockTransport) Enqueue(endpoint string, reply Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[endpoint] = append(m.queues[endpoint], reply)
}

// Exchange implements Transport.
func (m *MockTransport) Exchange(ctx context.Context, endpoint string, frame Frame) ([]byte, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	start := time.Now()
	queue := m.queues[endpoint]
	var reply Reply
	if len(queue) > 0 {
		reply = queue[0]
		m.queues[endpoint] = queue[1:]
	} else {
		reply = Reply{Err: ErrNoData}
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	m.inFlight--
	m.calls = append(m.calls, Call{Endpoint: endpoint, Command: frame.Command, Start: start, End: time.Now()})
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return reply.Decoded, nil
}

// MaxInFlight returns the peak number of concurrent Exchange calls observed,
// used to assert the single-flight invariant under concurrency stress.
func (m *MockTransport) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Calls returns a copy of every Exchange invocation observed so far, in
// completion order.
func (m *MockTransport) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
