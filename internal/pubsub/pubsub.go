// Package pubsub is the MQTT front-end: it mirrors the HTTP front-end's
// behavior over a broker topic pair, for deployments that drive the gateway
// from a message bus instead of direct HTTP calls.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sandgrain/gatemediator/internal/jobqueue"
)

// Per-operation timeouts, mirroring the HTTP front-end's timeout table.
var opTimeouts = map[string]time.Duration{
	"status":       10 * time.Second,
	"get_identity": 180 * time.Second,
	"get_cw":       180 * time.Second,
	"get_rw":       180 * time.Second,
	"authenticate": 240 * time.Second,
	"full_auth":    240 * time.Second,
}

const defaultTimeout = 180 * time.Second

// Submitter is the subset of *jobqueue.Queue the subscriber depends on.
type Submitter interface {
	Submit(op string, payload map[string]any) (string, <-chan jobqueue.Result, error)
}

// commandEnvelope is the inbound message shape on the command topic.
type commandEnvelope struct {
	FunctionName string           `json:"functionName"`
	Args         []map[string]any `json:"args"`
}

// Subscriber owns one MQTT connection, subscribing to the device's command
// topic and publishing results to its response topic.
type Subscriber struct {
	client   mqtt.Client
	queue    Submitter
	deviceID string
	log      zerolog.Logger
}

// Option configures a Subscriber at construction time.
type Option func(*mqtt.ClientOptions)

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) Option {
	return func(o *mqtt.ClientOptions) {
		o.SetUsername(username)
		o.SetPassword(password)
	}
}

// New builds a Subscriber bound to brokerURL, identified as deviceID. The
// connection is not established until Run is called.
func New(brokerURL, deviceID string, queue Submitter, log zerolog.Logger, opts ...Option) *Subscriber {
	s := &Subscriber{queue: queue, deviceID: deviceID, log: log}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("gatemediator-%s", deviceID)).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	for _, opt := range opts {
		opt(clientOpts)
	}
	clientOpts.SetOnConnectHandler(s.onConnect)
	clientOpts.SetConnectionLostHandler(s.onConnectionLost)

	s.client = mqtt.NewClient(clientOpts)
	return s
}

// Run connects to the broker and blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("pubsub: connecting to broker: %w", token.Error())
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	return nil
}

func (s *Subscriber) commandTopic() string {
	return fmt.Sprintf("pi/%s/command", s.deviceID)
}

func (s *Subscriber) responseTopic() string {
	return fmt.Sprintf("pi/%s/response", s.deviceID)
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	s.log.Info().Str("topic", s.commandTopic()).Msg("mqtt connected, subscribing")
	token := client.Subscribe(s.commandTopic(), 1, s.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.log.Warn().Err(err).Msg("mqtt connection lost")
}

func (s *Subscriber) onMessage(client mqtt.Client, msg mqtt.Message) {
	var envelope commandEnvelope
	if err := json.Unmarshal(msg.Payload(), &envelope); err != nil {
		s.publish(client, jobqueue.Result{"success": false, "error": "invalid command payload"})
		return
	}

	payload := map[string]any{}
	if len(envelope.Args) > 0 {
		payload = envelope.Args[0]
	}

	timeout, ok := opTimeouts[envelope.FunctionName]
	if !ok {
		timeout = defaultTimeout
	}

	_, ch, err := s.queue.Submit(envelope.FunctionName, payload)
	if err != nil {
		s.publish(client, jobqueue.Result{"success": false, "error": err.Error()})
		return
	}

	result := jobqueue.Wait(context.Background(), ch, timeout)
	s.publish(client, result)
}

func (s *Subscriber) publish(client mqtt.Client, result jobqueue.Result) {
	body, err := json.Marshal(result)
	if err != nil {
		s.log.Error().Err(err).Msg("marshalling mqtt response failed")
		return
	}
	token := client.Publish(s.responseTopic(), 1, false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		s.log.Error().Err(err).Msg("mqtt publish failed")
	}
}
