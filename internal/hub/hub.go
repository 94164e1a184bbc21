// Package hub registers this gateway with a fleet-management hub over a
// long-lived websocket connection: it announces the gateway's device id,
// name, and local address on connect, re-announces on a fixed interval as a
// heartbeat, and reconnects with a short fixed delay on any connection loss.
package hub

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval mirrors the hub's expected re-announce cadence.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultReconnectDelay is the fixed pause between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// Info is the registration payload sent on connect and on every heartbeat.
type Info struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	LocalIP    string `json:"localIp"`
	Port       int    `json:"port"`
}

// Registrar owns the connection to the fleet hub.
type Registrar struct {
	url               string
	info              Info
	heartbeatInterval time.Duration
	reconnectDelay    time.Duration
	log               zerolog.Logger
}

// Option configures a Registrar at construction time.
type Option func(*Registrar)

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Registrar) { r.heartbeatInterval = d }
}

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(r *Registrar) { r.reconnectDelay = d }
}

// New builds a Registrar that will announce as deviceID/deviceName on the
// given port once Run starts.
func New(hubURL, deviceID, deviceName string, port int, log zerolog.Logger, opts ...Option) *Registrar {
	r := &Registrar{
		url: hubURL,
		info: Info{
			Type:       "register",
			DeviceID:   deviceID,
			DeviceName: deviceName,
			Port:       port,
		},
		heartbeatInterval: DefaultHeartbeatInterval,
		reconnectDelay:    DefaultReconnectDelay,
		log:               log,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run connects to the hub and re-registers on every heartbeat tick, looping
// forever until ctx is cancelled. Connection failures are logged and
// retried after reconnectDelay rather than treated as fatal.
func (r *Registrar) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.connectAndServe(ctx); err != nil {
			r.log.Warn().Err(err).Str("url", r.url).Msg("hub connection lost, retrying")
		}
		select {
		case <-time.After(r.reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registrar) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	info := r.info
	info.LocalIP = localIP()

	if err := conn.WriteJSON(info); err != nil {
		return err
	}
	r.log.Info().Str("device_id", info.DeviceID).Msg("registered with hub")

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteJSON(info); err != nil {
				return err
			}
		}
	}
}

// localIP reports the address this host would use to reach the public
// internet, without actually establishing a connection.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
