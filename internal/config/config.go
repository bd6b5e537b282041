package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Parking   ParkingConfig   `mapstructure:"parking"`
	Detection DetectionConfig `mapstructure:"detection"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Cameras   []CameraConfig  `mapstructure:"cameras"`
	Sinks     SinksConfig     `mapstructure:"sinks"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// EnforcementScope selects whether the capacity limit applies to each
// camera feed independently or to the aggregate of the whole lot.
const (
	ScopeFeed = "feed"
	ScopeLot  = "lot"
)

type ParkingConfig struct {
	CapacityLimit    int     `mapstructure:"capacity_limit"`
	HourlyRate       float64 `mapstructure:"hourly_rate"`
	EnforcementScope string  `mapstructure:"enforcement_scope"`
}

type DetectionConfig struct {
	// MinConfidence is the minimum detector confidence the pipeline will
	// consume; anything below is dropped before tracking.
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type TrackingConfig struct {
	MaxMatchDistance float64       `mapstructure:"max_match_distance"`
	LostTrackTimeout time.Duration `mapstructure:"lost_track_timeout"`
	HistoryLen       int           `mapstructure:"history_len"`
}

type CameraConfig struct {
	ID     string     `mapstructure:"id"`
	Source string     `mapstructure:"source"`
	Line   LineConfig `mapstructure:"line"`
}

// LineConfig defines the virtual entry/exit boundary for one camera:
// an axis-aligned threshold with a debounce margin and the side of the
// line that counts as inside the lot.
type LineConfig struct {
	Axis     string  `mapstructure:"axis"`   // horizontal | vertical
	Position float64 `mapstructure:"position"`
	Margin   float64 `mapstructure:"margin"`
	Inside   string  `mapstructure:"inside"` // above | below | left | right
}

type SinksConfig struct {
	CSVPath string      `mapstructure:"csv_path"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	Topic            string `mapstructure:"topic"`
	SecurityProtocol string `mapstructure:"security_protocol"`
	SASLMechanism    string `mapstructure:"sasl_mechanism"`
	SASLUsername     string `mapstructure:"sasl_username"`
	SASLPassword     string `mapstructure:"sasl_password"`
}

type NotifyConfig struct {
	SMTPHost   string        `mapstructure:"smtp_host"`
	SMTPPort   int           `mapstructure:"smtp_port"`
	From       string        `mapstructure:"from"`
	Password   string        `mapstructure:"password"`
	To         string        `mapstructure:"to"`
	RetryCount int           `mapstructure:"retry_count"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file (plus PARKING_* env
// overrides) and validates it. Invalid configuration is fatal by
// contract: the caller must refuse to start processing.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("parking.capacity_limit", 2)
	v.SetDefault("parking.hourly_rate", 50.0)
	v.SetDefault("parking.enforcement_scope", ScopeLot)
	v.SetDefault("detection.min_confidence", 0.25)
	v.SetDefault("tracking.max_match_distance", 80.0)
	v.SetDefault("tracking.lost_track_timeout", "3s")
	v.SetDefault("tracking.history_len", 32)
	v.SetDefault("sinks.csv_path", "parking_logs.csv")
	v.SetDefault("sinks.kafka.topic", "parking-crossing-events")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.retry_count", 1)
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("PARKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Parking.CapacityLimit <= 0 {
		return fmt.Errorf("parking.capacity_limit must be > 0, got %d", c.Parking.CapacityLimit)
	}
	if c.Parking.HourlyRate < 0 {
		return fmt.Errorf("parking.hourly_rate must be >= 0, got %f", c.Parking.HourlyRate)
	}
	switch c.Parking.EnforcementScope {
	case ScopeFeed, ScopeLot:
	default:
		return fmt.Errorf("parking.enforcement_scope must be %q or %q, got %q", ScopeFeed, ScopeLot, c.Parking.EnforcementScope)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be in [0,1], got %f", c.Detection.MinConfidence)
	}
	if c.Tracking.LostTrackTimeout <= 0 {
		return fmt.Errorf("tracking.lost_track_timeout must be positive")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera must be configured")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: id is required", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("cameras[%d]: duplicate camera id %q", i, cam.ID)
		}
		seen[cam.ID] = true
		if err := cam.Line.Validate(); err != nil {
			return fmt.Errorf("cameras[%d] (%s): %w", i, cam.ID, err)
		}
	}
	if c.Notify.RetryCount < 0 {
		return fmt.Errorf("notify.retry_count must be >= 0")
	}
	return nil
}

func (l LineConfig) Validate() error {
	switch l.Axis {
	case "horizontal":
		if l.Inside != "above" && l.Inside != "below" {
			return fmt.Errorf("horizontal line requires inside above|below, got %q", l.Inside)
		}
	case "vertical":
		if l.Inside != "left" && l.Inside != "right" {
			return fmt.Errorf("vertical line requires inside left|right, got %q", l.Inside)
		}
	default:
		return fmt.Errorf("line axis must be horizontal|vertical, got %q", l.Axis)
	}
	if l.Margin < 0 {
		return fmt.Errorf("line margin must be >= 0, got %f", l.Margin)
	}
	return nil
}
