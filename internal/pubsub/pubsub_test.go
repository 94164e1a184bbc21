package pubsub

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sandgrain/gatemediator/internal/jobqueue"
)

type fakeToken struct{ err error }

func (f *fakeToken) Wait() bool                     { return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (f *fakeToken) Error() error                   { return f.err }

type fakeClient struct {
	published chan []byte
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }
func (f *fakeClient) Connect() mqtt.Token    { return &fakeToken{} }
func (f *fakeClient) Disconnect(uint)        {}
func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	switch v := payload.(type) {
	case []byte:
		f.published <- v
	case string:
		f.published <- []byte(v)
	}
	return &fakeToken{}
}
func (f *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return &fakeToken{} }
func (f *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "pi/gw-1/command" }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type scriptedQueue struct {
	result jobqueue.Result
	fail   error
}

func (q *scriptedQueue) Submit(op string, payload map[string]any) (string, <-chan jobqueue.Result, error) {
	if q.fail != nil {
		return "", nil, q.fail
	}
	ch := make(chan jobqueue.Result, 1)
	ch <- q.result
	return "job-1", ch, nil
}

func TestOnMessageDispatchesAndPublishesResult(t *testing.T) {
	queue := &scriptedQueue{result: jobqueue.Result{"success": true, "identity": "abc"}}
	sub := New("tcp://broker:1883", "gw-1", queue, zerolog.Nop())
	client := &fakeClient{published: make(chan []byte, 1)}

	msg := &fakeMessage{payload: []byte(`{"functionName":"get_identity","args":[{}]}`)}
	sub.onMessage(client, msg)

	select {
	case body := <-client.published:
		require.Contains(t, string(body), "abc")
	case <-time.After(time.Second):
		t.Fatal("expected a published response")
	}
}

func TestOnMessageRejectsInvalidPayload(t *testing.T) {
	queue := &scriptedQueue{result: jobqueue.Result{"success": true}}
	sub := New("tcp://broker:1883", "gw-1", queue, zerolog.Nop())
	client := &fakeClient{published: make(chan []byte, 1)}

	msg := &fakeMessage{payload: []byte(`not json`)}
	sub.onMessage(client, msg)

	select {
	case body := <-client.published:
		require.Contains(t, string(body), "invalid command payload")
	case <-time.After(time.Second):
		t.Fatal("expected an error response")
	}
}

func TestOnMessagePropagatesQueueSubmitError(t *testing.T) {
	queue := &scriptedQueue{fail: jobqueue.ErrQueueFull}
	sub := New("tcp://broker:1883", "gw-1", queue, zerolog.Nop())
	client := &fakeClient{published: make(chan []byte, 1)}

	msg := &fakeMessage{payload: []byte(`{"functionName":"status","args":[{}]}`)}
	sub.onMessage(client, msg)

	select {
	case body := <-client.published:
		require.Contains(t, string(body), "queue is full")
	case <-time.After(time.Second):
		t.Fatal("expected an error response")
	}
}

func TestTopicNamesUseDeviceID(t *testing.T) {
	sub := New("tcp://broker:1883", "gw-42", &scriptedQueue{}, zerolog.Nop())
	require.Equal(t, "pi/gw-42/command", sub.commandTopic())
	require.Equal(t, "pi/gw-42/response", sub.responseTopic())
}
