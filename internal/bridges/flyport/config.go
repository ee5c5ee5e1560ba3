package flyport

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Board tuple defaults, applied to every field a tuple omits.
const (
	DefaultBoardIP   = "192.168.0.115"
	DefaultBoardPort = 80
	DefaultLineKind  = "led"
	DefaultPotNumber = 2
	DefaultLedNumber = 5
	DefaultBtnNumber = 5
)

// Config is the root configuration of the Flyport bridge.
// Loaded from YAML with FLYPORT_BRIDGE_* environment overrides.
type Config struct {
	Bridge BridgeSettings `yaml:"bridge"`

	// Commands maps an operation name to its request path template.
	// "{line}" is replaced by the hex line index.
	Commands map[string]string `yaml:"commands"`

	Boards []BoardConfig `yaml:"boards"`
}

// BridgeSettings contains bridge identity and timing.
type BridgeSettings struct {
	// ID identifies the bridge in health messages.
	ID string `yaml:"id"`

	// PollingTime is the pause between poll cycles (milliseconds).
	PollingTime int `yaml:"polling_time"`

	// SocketTimeout bounds every dial, read and write (milliseconds).
	SocketTimeout int `yaml:"socket_timeout"`

	// AddressDelimiter separates host, port and line in command addresses.
	AddressDelimiter string `yaml:"address_delimiter"`

	// HealthInterval is how often health is published (seconds).
	HealthInterval int `yaml:"health_interval"`

	// SuspendRetry re-polls a suspended board after this many seconds.
	// 0 waits for a manual resume.
	SuspendRetry int `yaml:"suspend_retry"`

	// EventQueueSize bounds the events waiting for delivery.
	EventQueueSize int `yaml:"event_queue_size"`

	// Description is reported while polling is stopped.
	Description string `yaml:"description"`
}

// BoardConfig is one board tuple. Field names follow the board tuple
// format; omitted fields take the Default* values.
type BoardConfig struct {
	IP            string `yaml:"ip-to-query" json:"ip-to-query" validate:"required,hostname_rfc1123|ip"`
	Port          int    `yaml:"port-to-query" json:"port-to-query" validate:"min=1,max=65535"`
	LineKind      string `yaml:"line-to-monitorize" json:"line-to-monitorize" validate:"required"`
	PotNumber     int    `yaml:"pot-number" json:"pot-number" validate:"min=0"`
	LedNumber     int    `yaml:"led-number" json:"led-number" validate:"min=0"`
	BtnNumber     int    `yaml:"btn-number" json:"btn-number" validate:"min=0"`
	StartingValue int    `yaml:"starting-value" json:"starting-value" validate:"min=0"`

	// Alias names the board in logs and the status API. Defaults to ip:port.
	Alias string `yaml:"alias" json:"alias,omitempty" validate:"omitempty,max=64"`

	// Authentication is "none" (default) or "basic".
	Authentication string `yaml:"authentication" json:"authentication,omitempty" validate:"omitempty,oneof=none basic"`
	Username       string `yaml:"username" json:"username,omitempty" validate:"required_if=Authentication basic"`

	// WARNING: never log this value. String and MarshalJSON redact it.
	Password string `yaml:"password" json:"password,omitempty"`
}

// DefaultBoardConfig returns a tuple with every default applied.
func DefaultBoardConfig() BoardConfig {
	return BoardConfig{
		IP:        DefaultBoardIP,
		Port:      DefaultBoardPort,
		LineKind:  DefaultLineKind,
		PotNumber: DefaultPotNumber,
		LedNumber: DefaultLedNumber,
		BtnNumber: DefaultBtnNumber,
	}
}

// UnmarshalYAML decodes a tuple on top of the defaults.
func (b *BoardConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain BoardConfig
	raw := plain(DefaultBoardConfig())
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*b = BoardConfig(raw)
	return nil
}

// String returns a representation with the password masked.
func (b BoardConfig) String() string {
	password := ""
	if b.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("BoardConfig{IP:%q, Port:%d, LineKind:%q, Start:%d, Alias:%q, Auth:%q, Username:%q, Password:%s}",
		b.IP, b.Port, b.LineKind, b.StartingValue, b.Alias, b.Authentication, b.Username, password)
}

// MarshalJSON redacts the password.
func (b BoardConfig) MarshalJSON() ([]byte, error) {
	type redacted BoardConfig
	safe := redacted(b)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// LineCount returns the count field that matches the tuple's line kind.
func (b BoardConfig) LineCount(kind LineKind) int {
	switch kind.String() {
	case Button.String():
		return b.BtnNumber
	case Potentiometer.String():
		return b.PotNumber
	default:
		return b.LedNumber
	}
}

var tupleValidator = newTupleValidator()

func newTupleValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Board validates the tuple and builds its descriptor. Every failure wraps
// ErrConfiguration.
func (b BoardConfig) Board() (Board, error) {
	if err := tupleValidator.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = validationMessage(fe)
			}
			return Board{}, fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, "; "))
		}
		return Board{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	kind, err := ParseLineKind(b.LineKind)
	if err != nil {
		return Board{}, err
	}

	var auth *Credentials
	if b.Authentication == "basic" {
		auth = &Credentials{Username: b.Username, Password: b.Password}
	}

	return NewBoard(BoardOptions{
		Host:  b.IP,
		Port:  b.Port,
		Alias: b.Alias,
		Kind:  kind,
		Start: b.StartingValue,
		Count: b.LineCount(kind),
		Auth:  auth,
	})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "hostname_rfc1123|ip":
		return fmt.Sprintf("%s %q is not a valid host", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// BuildBoards builds a descriptor for every valid tuple. Invalid tuples and
// duplicate aliases are returned as errors and left out; they never prevent
// the other boards from registering.
func (c *Config) BuildBoards() ([]Board, []error) {
	boards := make([]Board, 0, len(c.Boards))
	var errs []error
	seen := make(map[string]bool, len(c.Boards))

	for i, bc := range c.Boards {
		b, err := bc.Board()
		if err != nil {
			errs = append(errs, fmt.Errorf("boards[%d]: %w", i, err))
			continue
		}
		if seen[b.Alias()] {
			errs = append(errs, fmt.Errorf("boards[%d]: %w: duplicate alias %q", i, ErrConfiguration, b.Alias()))
			continue
		}
		seen[b.Alias()] = true
		boards = append(boards, b)
	}
	return boards, errs
}

// LoadConfig reads the bridge configuration.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (FLYPORT_BRIDGE_*)
//
// Board tuples are not validated here; see BuildBoards.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration used when a file omits a value.
func DefaultConfig() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeSettings{
			ID:               "flyport-bridge-01",
			PollingTime:      1000,
			SocketTimeout:    1000,
			AddressDelimiter: DefaultAddressDelimiter,
			HealthInterval:   30,
			EventQueueSize:   256,
			Description:      DefaultPollDescription,
		},
		Commands: maps.Clone(DefaultCommands),
		Boards:   []BoardConfig{},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLYPORT_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("FLYPORT_BRIDGE_POLLING_TIME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.PollingTime = n
		}
	}
	if v := os.Getenv("FLYPORT_BRIDGE_SOCKET_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.SocketTimeout = n
		}
	}
	if v := os.Getenv("FLYPORT_BRIDGE_ADDRESS_DELIMITER"); v != "" {
		cfg.Bridge.AddressDelimiter = v
	}
	if v := os.Getenv("FLYPORT_BRIDGE_SUSPEND_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.SuspendRetry = n
		}
	}
}

// Validate checks the bridge-level settings.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.PollingTime < 1 {
		errs = append(errs, "bridge.polling_time must be at least 1 millisecond")
	}
	if c.Bridge.SocketTimeout < 1 {
		errs = append(errs, "bridge.socket_timeout must be at least 1 millisecond")
	}
	if c.Bridge.AddressDelimiter == "" {
		errs = append(errs, "bridge.address_delimiter is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.SuspendRetry < 0 {
		errs = append(errs, "bridge.suspend_retry must not be negative")
	}
	if c.Bridge.EventQueueSize < 1 {
		errs = append(errs, "bridge.event_queue_size must be at least 1")
	}
	for op, tmpl := range c.Commands {
		if strings.TrimSpace(op) == "" {
			errs = append(errs, "commands: operation name is required")
		} else if strings.TrimSpace(tmpl) == "" {
			errs = append(errs, fmt.Sprintf("commands.%s: path template is required", op))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollingInterval returns the pause between poll cycles.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Bridge.PollingTime) * time.Millisecond
}

// SocketTimeout returns the per-operation socket timeout.
func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.Bridge.SocketTimeout) * time.Millisecond
}

// HealthInterval returns the health publishing interval.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// SuspendRetry returns the automatic retry delay for suspended boards.
func (c *Config) SuspendRetry() time.Duration {
	return time.Duration(c.Bridge.SuspendRetry) * time.Second
}
