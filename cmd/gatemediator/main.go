// Command gatemediator runs the gateway authentication mediator: it owns the
// hardware cryptographic token over serial, proxies authentication to the
// cloud service, and exposes both an HTTP and an MQTT front-end for callers.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandgrain/gatemediator/internal/config"
	"github.com/sandgrain/gatemediator/internal/httpapi"
	"github.com/sandgrain/gatemediator/internal/hub"
	"github.com/sandgrain/gatemediator/internal/pubsub"
	"github.com/sandgrain/gatemediator/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	credentialsFile := flag.String("credentials-file", "credentials.env", "path to a dotenv-style credentials file")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://broker:1883 (disabled if empty)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*credentialsFile)
	if err != nil {
		log.Error().Err(err).Msg("loading configuration")
		return 1
	}

	rt, err := runtime.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("initializing runtime")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rt.Run(ctx)

	router := httpapi.NewRouter(rt.Queue, rt, log)
	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", rt.Metrics.Handler())

	server := &http.Server{
		Addr:    formatAddr(cfg.ListenPort),
		Handler: mux,
	}

	serverErrs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	if *mqttBroker != "" {
		subscriber := pubsub.New(*mqttBroker, cfg.DeviceID, rt.Queue, log)
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				log.Error().Err(err).Msg("mqtt subscriber stopped")
			}
		}()
	}

	var registrar *hub.Registrar
	if cfg.HubURL != "" {
		registrar = hub.New(cfg.HubURL, cfg.DeviceID, cfg.DeviceName, cfg.ListenPort, log)
		go registrar.Run(ctx)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErrs:
		log.Error().Err(err).Msg("http server failed")
		stop()
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	return 0
}

func formatAddr(port int) string {
	if port <= 0 {
		port = config.DefaultListenPort
	}
	return ":" + strconv.Itoa(port)
}
