package transport

import "time"

// Default timing parameters, per the device mediation protocol. These mirror
// the shape of a functional-options Config: a zero Config is never used
// directly, defaultConfig() supplies the baseline and Option funcs layer on
// top.
const (
	// DefaultQuietPeriod is the minimum interval enforced since a device's
	// last operation before a new one may begin.
	DefaultQuietPeriod = 300 * time.Millisecond
	// DefaultBaudRate is the serial line speed for all devices.
	DefaultBaudRate = 115200
	// DefaultSettleDelay is slept after opening the port, before buffers
	// are cleared a second time, to let the device enumerate.
	DefaultSettleDelay = 150 * time.Millisecond
	// DefaultReadTimeout bounds a single underlying port Read call.
	DefaultReadTimeout = 4 * time.Second
	// DefaultReadBudget bounds the entire read loop for one exchange.
	DefaultReadBudget = 5 * time.Second
	// DefaultInterByteStall is the maximum pause between bytes, once the
	// first byte of a reply has been seen, before the read loop gives up.
	DefaultInterByteStall = 750 * time.Millisecond
	// DefaultGhostReadThreshold is how many consecutive empty-but-reported
	// reads are tolerated before the loop returns what it has (or NoData).
	DefaultGhostReadThreshold = 5
	// DefaultCooldown is slept after every exchange, success or failure,
	// before the port is considered free again.
	DefaultCooldown = 150 * time.Millisecond
)

// Config holds the tunable timing parameters for one Transport.
type Config struct {
	QuietPeriod        time.Duration
	BaudRate           int
	SettleDelay        time.Duration
	ReadTimeout        time.Duration
	ReadBudget         time.Duration
	InterByteStall     time.Duration
	GhostReadThreshold int
	Cooldown           time.Duration
}

// Option configures a Transport at construction time.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		QuietPeriod:        DefaultQuietPeriod,
		BaudRate:           DefaultBaudRate,
		SettleDelay:        DefaultSettleDelay,
		ReadTimeout:        DefaultReadTimeout,
		ReadBudget:         DefaultReadBudget,
		InterByteStall:     DefaultInterByteStall,
		GhostReadThreshold: DefaultGhostReadThreshold,
		Cooldown:           DefaultCooldown,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithQuietPeriod overrides the minimum interval between exchanges on the
// same device.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.QuietPeriod = d
		}
	}
}

// WithBaudRate overrides the serial line speed.
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

// WithReadBudget overrides the overall read-loop deadline for one exchange.
func WithReadBudget(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadBudget = d
		}
	}
}

// WithInterByteStall overrides the maximum gap tolerated between bytes of a
// reply once the first byte has arrived.
func WithInterByteStall(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InterByteStall = d
		}
	}
}
