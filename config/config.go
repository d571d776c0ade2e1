package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// EnvPrefix prefixes every environment override, e.g. TLSFORWARD_LOGGING_LEVEL.
const EnvPrefix = "TLSFORWARD"

type ServerConfig struct {
	Environment       string        `mapstructure:"environment"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type UpstreamConfig struct {
	InsecureSkipVerify    bool          `mapstructure:"insecure_skip_verify"`
	CAFile                string        `mapstructure:"ca_file"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout"`
	MaxIdleConns          int           `mapstructure:"max_idle_conns"`
}

type AdmissionConfig struct {
	MaxInFlight int64         `mapstructure:"max_in_flight"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CircuitBreakerConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

type HealthCheckConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Upstream       UpstreamConfig       `mapstructure:"upstream"`
	Admission      AdmissionConfig      `mapstructure:"admission"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	Admin          AdminConfig          `mapstructure:"admin"`
	Logging        LoggingConfig        `mapstructure:"logging"`

	// Routes come from the positional arguments, never from the file.
	Routes []Route `mapstructure:"-"`
	// ConfigFile is the file that was read, empty if none was found.
	ConfigFile string `mapstructure:"-"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"environment":           "server.environment",
	"read-header-timeout":   "server.read_header_timeout",
	"idle-timeout":          "server.idle_timeout",
	"write-timeout":         "server.write_timeout",
	"shutdown-timeout":      "server.shutdown_timeout",
	"insecure-skip-verify":  "upstream.insecure_skip_verify",
	"ca-file":               "upstream.ca_file",
	"dial-timeout":          "upstream.dial_timeout",
	"tls-handshake-timeout": "upstream.tls_handshake_timeout",
	"upstream-timeout":      "upstream.response_header_timeout",
	"idle-conn-timeout":     "upstream.idle_conn_timeout",
	"max-idle-conns":        "upstream.max_idle_conns",
	"max-in-flight":         "admission.max_in_flight",
	"admission-timeout":     "admission.timeout",
	"breaker-threshold":     "circuit_breaker.threshold",
	"breaker-reset":         "circuit_breaker.reset_timeout",
	"health-interval":       "health_check.interval",
	"admin-addr":            "admin.address",
	"log-level":             "logging.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("upstream.insecure_skip_verify", false)
	v.SetDefault("upstream.ca_file", "")
	v.SetDefault("upstream.dial_timeout", 10*time.Second)
	v.SetDefault("upstream.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("upstream.response_header_timeout", 30*time.Second)
	v.SetDefault("upstream.idle_conn_timeout", 90*time.Second)
	v.SetDefault("upstream.max_idle_conns", 100)
	v.SetDefault("admission.max_in_flight", 0)
	v.SetDefault("admission.timeout", 5*time.Second)
	v.SetDefault("circuit_breaker.threshold", 0)
	v.SetDefault("circuit_breaker.reset_timeout", 30*time.Second)
	v.SetDefault("health_check.interval", time.Duration(0))
	v.SetDefault("admin.address", "")
	v.SetDefault("logging.level", LogLevelInfo)
}

// NewFlagSet declares every command line flag. Interspersing is disabled so
// that parsing stops at the first route and leaves the route grammar,
// including -H, to ParseRoutes.
func NewFlagSet(output io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("tlsforward", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SortFlags = false
	fs.SetOutput(output)

	fs.String("config", "", "Path to a YAML config file (default: tlsforward.yaml in ./config or .)")
	fs.String("log-level", LogLevelInfo, "Log level: debug|info|warn|error")
	fs.String("environment", EnvDev, "Environment: dev|staging|prod (prod logs JSON)")
	fs.Bool("insecure-skip-verify", false, "Do not verify upstream TLS certificates")
	fs.String("ca-file", "", "PEM bundle of extra CAs trusted for upstream TLS")
	fs.Duration("dial-timeout", 10*time.Second, "Timeout for upstream TCP connect")
	fs.Duration("tls-handshake-timeout", 10*time.Second, "Timeout for upstream TLS handshake")
	fs.Duration("upstream-timeout", 30*time.Second, "Timeout waiting for upstream response headers (0 disables)")
	fs.Duration("idle-conn-timeout", 90*time.Second, "How long idle upstream connections are kept in the pool")
	fs.Int("max-idle-conns", 100, "Maximum idle upstream connections in the shared pool")
	fs.Int64("max-in-flight", 0, "Maximum concurrent forwards across all routes (0 = unlimited)")
	fs.Duration("admission-timeout", 5*time.Second, "How long a request waits for a forwarding slot")
	fs.Duration("read-header-timeout", 10*time.Second, "Timeout for reading client request headers")
	fs.Duration("idle-timeout", 60*time.Second, "Timeout for idle client keep-alive connections")
	fs.Duration("write-timeout", 0, "Timeout for writing a response to the client (0 disables)")
	fs.Duration("shutdown-timeout", 5*time.Second, "Grace period for in-flight forwards on shutdown")
	fs.Int("breaker-threshold", 0, "Consecutive upstream failures that open a route's circuit breaker (0 disables)")
	fs.Duration("breaker-reset", 30*time.Second, "How long an open circuit breaker waits before probing")
	fs.Duration("health-interval", 0, "Interval between upstream health probes (0 disables)")
	fs.String("admin-addr", "", "Admin listen address exposing /metrics, /stats and /healthz (empty disables)")

	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: tlsforward [flags] <hostname>:<port> <destination-url> [%s <name>:<value>]...\n\nFlags:\n", HeaderFlag)
		fs.PrintDefaults()
	}

	return fs
}

// headerBeforeRoute reports whether -H shows up among the flags, ahead of
// any route. pflag would otherwise reject it as an unknown shorthand.
func headerBeforeRoute(fs *pflag.FlagSet, args []string) bool {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == HeaderFlag:
			return true
		case arg == "--" || arg == "-" || !strings.HasPrefix(arg, "-"):
			return false
		case strings.Contains(arg, "="):
			continue
		}

		if f := fs.Lookup(strings.TrimLeft(arg, "-")); f != nil && f.NoOptDefVal == "" {
			i++
		}
	}

	return false
}

// Load builds the configuration from args (without the program name).
// Precedence is flag, environment, config file, default. Routes are parsed
// from the positional arguments that follow the flags.
func Load(args []string, output io.Writer) (*Config, error) {
	fs := NewFlagSet(output)
	if headerBeforeRoute(fs, args) {
		return nil, errHeaderWithoutRoute
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("tlsforward")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	routes, err := ParseRoutes(fs.Args())
	if err != nil {
		return nil, err
	}
	cfg.Routes = routes

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.ReadHeaderTimeout, validation.By(validateNonNegative)),
					validation.Field(&sc.IdleTimeout, validation.By(validateNonNegative)),
					validation.Field(&sc.WriteTimeout, validation.By(validateNonNegative)),
					validation.Field(&sc.ShutdownTimeout, validation.By(validateNonNegative)),
				)
			}),
		),
		validation.Field(&c.Upstream,
			validation.By(func(value interface{}) error {
				uc, ok := value.(UpstreamConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
				}
				return validation.ValidateStruct(&uc,
					validation.Field(&uc.DialTimeout, validation.By(validateNonNegative)),
					validation.Field(&uc.TLSHandshakeTimeout, validation.By(validateNonNegative)),
					validation.Field(&uc.ResponseHeaderTimeout, validation.By(validateNonNegative)),
					validation.Field(&uc.IdleConnTimeout, validation.By(validateNonNegative)),
					validation.Field(&uc.MaxIdleConns, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Admission,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdmissionConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdmissionConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.MaxInFlight, validation.Min(int64(0))),
					validation.Field(&ac.Timeout, validation.By(validateNonNegative)),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.Threshold, validation.Min(0)),
					validation.Field(&cc.ResetTimeout, validation.By(validatePositiveWhen(cc.Threshold > 0))),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.By(validateNonNegative)),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address, validation.By(validateHostPort)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		// Route implements validation.Validatable, so each element is checked too.
		validation.Field(&c.Routes,
			validation.Required.Error(ErrNoRoutes.Error()),
		),
	)
}

func validateNonNegative(value interface{}) error {
	d, ok := value.(time.Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePositiveWhen(required bool) validation.RuleFunc {
	return func(value interface{}) error {
		d, ok := value.(time.Duration)
		if !ok {
			return validation.NewError("validation_invalid_type", "must be a duration")
		}

		if required && d <= 0 {
			return validation.NewError("validation_invalid_duration", "must be positive")
		}

		return nil
	}
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
