// Package config loads the gateway's runtime settings from the process
// environment, falling back to a dotenv-style credentials file for values
// that are awkward to inject as plain environment variables on a headless
// gateway host.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sandgrain/gatemediator/internal/cloud"
)

// ErrMissingCredential is returned when a required credential has neither an
// environment variable nor a credentials-file entry.
var ErrMissingCredential = errors.New("config: missing required credential")

// Config is every externally-tunable setting the gateway needs at startup.
type Config struct {
	Environment cloud.Environment

	DeviceID   string
	DeviceName string

	CloudUsername string
	CloudPassword string
	ProxyHeaders  map[string]string

	ListenPort int

	HubURL string

	StatusGreenPin  string
	StatusRedPin    string
	StatusYellowPin string
}

// Default* mirror §6's stated defaults.
const (
	DefaultListenPort = 8000
)

// Load reads configuration from the environment, applying credentialsFile
// (if it exists) as a fallback source for any variable not already set in
// the environment. credentialsFile may be empty, in which case only the
// environment is consulted.
func Load(credentialsFile string) (Config, error) {
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err == nil {
			if err := godotenv.Load(credentialsFile); err != nil {
				return Config{}, fmt.Errorf("config: loading credentials file %s: %w", credentialsFile, err)
			}
		}
	}

	cfg := Config{
		Environment:     cloud.Environment(getEnvDefault("GATEMEDIATOR_ENVIRONMENT", string(cloud.EnvironmentUAT))),
		DeviceID:        os.Getenv("GATEMEDIATOR_DEVICE_ID"),
		DeviceName:      getEnvDefault("GATEMEDIATOR_DEVICE_NAME", "gatemediator"),
		CloudUsername:   os.Getenv("GATEMEDIATOR_CLOUD_USERNAME"),
		CloudPassword:   os.Getenv("GATEMEDIATOR_CLOUD_PASSWORD"),
		ListenPort:      DefaultListenPort,
		HubURL:          os.Getenv("GATEMEDIATOR_HUB_URL"),
		StatusGreenPin:  getEnvDefault("GATEMEDIATOR_STATUS_GREEN_PIN", "GPIO5"),
		StatusRedPin:    getEnvDefault("GATEMEDIATOR_STATUS_RED_PIN", "GPIO6"),
		StatusYellowPin: getEnvDefault("GATEMEDIATOR_STATUS_YELLOW_PIN", "GPIO12"),
		ProxyHeaders:    proxyHeadersFromEnv(),
	}

	if portStr := os.Getenv("GATEMEDIATOR_LISTEN_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid GATEMEDIATOR_LISTEN_PORT: %w", err)
		}
		cfg.ListenPort = port
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CloudUsername == "" {
		return fmt.Errorf("%w: GATEMEDIATOR_CLOUD_USERNAME", ErrMissingCredential)
	}
	if c.CloudPassword == "" {
		return fmt.Errorf("%w: GATEMEDIATOR_CLOUD_PASSWORD", ErrMissingCredential)
	}
	if c.Environment != cloud.EnvironmentUAT && c.Environment != cloud.EnvironmentSandbox {
		return fmt.Errorf("config: GATEMEDIATOR_ENVIRONMENT must be UAT or SANDBOX, got %q", c.Environment)
	}
	return nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// proxyHeadersFromEnv reads the pair of access-gateway identity-aware-proxy
// headers the cloud service expects on every request.
func proxyHeadersFromEnv() map[string]string {
	headers := map[string]string{}
	if id := os.Getenv("GATEMEDIATOR_CF_ACCESS_CLIENT_ID"); id != "" {
		headers["CF-Access-Client-Id"] = id
	}
	if secret := os.Getenv("GATEMEDIATOR_CF_ACCESS_CLIENT_SECRET"); secret != "" {
		headers["CF-Access-Client-Secret"] = secret
	}
	return headers
}
