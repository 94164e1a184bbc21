// Package runtime assembles every singleton component into one value the
// front-ends are handed at startup, rather than reaching for package-level
// globals. This is the one non-ambient instance point the rest of the
// gateway depends on.
package runtime

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sandgrain/gatemediator/internal/cloud"
	"github.com/sandgrain/gatemediator/internal/config"
	"github.com/sandgrain/gatemediator/internal/devicepool"
	"github.com/sandgrain/gatemediator/internal/jobqueue"
	"github.com/sandgrain/gatemediator/internal/metrics"
	"github.com/sandgrain/gatemediator/internal/orchestrator"
	"github.com/sandgrain/gatemediator/internal/retry"
	"github.com/sandgrain/gatemediator/internal/serializer"
	"github.com/sandgrain/gatemediator/internal/status"
	"github.com/sandgrain/gatemediator/internal/transport"
)

// DeviceGlobPatterns lists the platform-specific character-device paths the
// Device Pool probes at startup, in priority order.
var DeviceGlobPatterns = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
}

// Runtime owns every process-singleton component: the Device Pool, the
// Serializer, the Job Queue and its correlation map, the Orchestrator, and
// the Status Indicator.
type Runtime struct {
	Config       config.Config
	Pool         *devicepool.Pool
	Queue        *jobqueue.Queue
	Orchestrator *orchestrator.Orchestrator
	Status       *status.Indicator
	Metrics      *metrics.Collector

	log zerolog.Logger
}

// New wires up every component from cfg. It does not start the Worker loop
// or any front-end listener; call Run for that.
func New(cfg config.Config, log zerolog.Logger) (*Runtime, error) {
	indicator := buildStatusIndicator(cfg, log)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	pool := devicepool.New()
	serialTransport := transport.NewSerialTransport(log)
	if err := pool.Initialize(DeviceGlobPatterns, func(endpoint string) bool {
		return transport.ProbeEndpoint(transport.DefaultOpenFunc(), endpoint)
	}); err != nil {
		return nil, fmt.Errorf("runtime: enumerating devices: %w", err)
	}

	instrumented := metrics.InstrumentTransport(serialTransport, collector)
	serial := serializer.New(instrumented)
	retryCtrl := retry.New(serial, pool, serialTransport, log, retry.DefaultConfig())

	var cloudClient cloud.Client = cloud.NewHTTPClient(cfg.Environment, cfg.ProxyHeaders, log)
	cloudClient = metrics.InstrumentCloudClient(cloudClient, collector)

	creds := orchestrator.Credentials{Username: cfg.CloudUsername, Password: cfg.CloudPassword}
	orch := orchestrator.New(pool, retryCtrl, cloudClient, indicator, creds, orchestrator.DefaultConfig(), log)

	queue := jobqueue.New(64, log)

	return &Runtime{
		Config:       cfg,
		Pool:         pool,
		Queue:        queue,
		Orchestrator: orch,
		Status:       indicator,
		Metrics:      collector,
		log:          log,
	}, nil
}

func buildStatusIndicator(cfg config.Config, log zerolog.Logger) *status.Indicator {
	driver, err := status.NewGPIODriver(cfg.StatusGreenPin, cfg.StatusRedPin, cfg.StatusYellowPin)
	if err != nil {
		log.Warn().Err(err).Msg("status indicator hardware unavailable, running headless")
		return status.New(nil)
	}
	return status.New(driver)
}

// Run starts the Worker loop, dispatching queued jobs to the Orchestrator.
// It blocks until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) {
	r.Queue.Run(ctx, r.dispatch)
}

// dispatch routes one Job to the Orchestrator operation its Op names,
// shaping the Orchestrator's typed results into the JSON-ready Result map
// every front-end expects.
func (r *Runtime) dispatch(ctx context.Context, job jobqueue.Job) jobqueue.Result {
	switch job.Op {
	case "status":
		return jobqueue.Result{"status": "ok", "message": "gateway ready"}

	case "get_identity":
		identity, err := r.Orchestrator.GetIdentity(ctx)
		if err != nil {
			return failureResult(err)
		}
		return jobqueue.Result{"success": true, "identity": identity}

	case "get_cw":
		identity, _ := job.Payload["identity"].(string)
		cw, txID, err := r.Orchestrator.GetCW(ctx, identity)
		if err != nil {
			return failureResult(err)
		}
		return jobqueue.Result{"success": true, "cw": cw, "transactionId": txID}

	case "get_rw":
		cw, _ := job.Payload["cw"].(string)
		rw, err := r.Orchestrator.GetRW(ctx, cw)
		if err != nil {
			return failureResult(err)
		}
		return jobqueue.Result{"success": true, "rw": rw}

	case "authenticate":
		identity, _ := job.Payload["identity"].(string)
		cw, _ := job.Payload["cw"].(string)
		rw, _ := job.Payload["rw"].(string)
		txID, _ := job.Payload["transactionId"].(string)
		verdict, claimID, err := r.Orchestrator.Authenticate(ctx, identity, cw, rw, txID)
		if err != nil {
			return failureResult(err)
		}
		return jobqueue.Result{"success": true, "authResult": verdict, "claimId": claimID}

	case "full_auth":
		result, err := r.Orchestrator.FullAuth(ctx)
		if err != nil {
			return failureResult(err)
		}
		return jobqueue.Result{
			"success":    true,
			"identity":   result.Identity,
			"cw":         result.CW,
			"rw":         result.RW,
			"authResult": result.Verdict,
			"claimId":    result.ClaimID,
		}

	default:
		return jobqueue.Result{"success": false, "error": fmt.Sprintf("unknown operation %q", job.Op)}
	}
}

func failureResult(err error) jobqueue.Result {
	return jobqueue.Result{"success": false, "error": err.Error()}
}

// HealthSnapshot is the payload for /api/health.
type HealthSnapshot struct {
	Status    string               `json:"status"`
	QueueSize int                  `json:"queue_size"`
	Devices   []devicepool.Snapshot `json:"devices"`
}

// Health reports the current queue depth and device health, sampling the
// queue depth into the metrics gauge along the way.
func (r *Runtime) Health() HealthSnapshot {
	depth := r.Queue.Len()
	r.Metrics.SetJobQueueDepth(depth)
	return HealthSnapshot{Status: "ok", QueueSize: depth, Devices: r.Pool.Snapshots()}
}
