package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig fleet database connection settings.
// Targets maps the operator-facing target letter ("A", "B") to a host.
type DatabaseConfig struct {
	Driver   string            `yaml:"driver"`
	Targets  map[string]string `yaml:"targets"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	TLS      string            `yaml:"tls"`
	MaxConns int               `yaml:"max_conns"`
	MaxIdle  int               `yaml:"max_idle"`
}

// SelectTarget points Host at the named target.
func (c *DatabaseConfig) SelectTarget(name string) error {
	host, ok := c.Targets[strings.ToUpper(name)]
	if !ok || host == "" {
		return fmt.Errorf("unknown database target %q", name)
	}
	c.Host = host
	return nil
}

// SendlistDefaults fixed column values of every queued controller command.
type SendlistDefaults struct {
	Priority    int    `yaml:"priority"`
	Sureness    int    `yaml:"sureness"`
	StartTime   string `yaml:"start_time"`
	RetriesToDo int    `yaml:"retries_todo"`
	LastTry     string `yaml:"last_try"`
	Comment     string `yaml:"comment"`
	NewPinCode  int    `yaml:"new_pin_code"`
}

// PatchConfig switching-duration patch settings.
type PatchConfig struct {
	ModuleDeviceType      int              `yaml:"module_device_type"`
	TargetSeconds         int              `yaml:"target_seconds"`
	SlaveCommand          string           `yaml:"slave_command"`
	ControllerCommand     int              `yaml:"controller_command"`
	ControllerDeviceTypes []int            `yaml:"controller_device_types"`
	Sendlist              SendlistDefaults `yaml:"sendlist"`
}

// RedisConfig tenant snapshot cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig run summary publisher.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Config fleettool configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Patch    PatchConfig    `yaml:"patch"`

	Tenants struct {
		Reserved []string      `yaml:"reserved"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"tenants"`

	Redis RedisConfig `yaml:"redis"`
	MQTT  MQTTConfig  `yaml:"mqtt"`

	Webhook struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`

	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`

	Export struct {
		Dir string `yaml:"dir"`
	} `yaml:"export"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// DefaultPort returns the standard port of driver.
func DefaultPort(driver string) int {
	if driver == "postgres" {
		return 5432
	}
	return 3306
}

// Default returns the built-in configuration.
// The database port is left unset and resolved per driver by Load.
func Default() *Config {
	cfg := &Config{}

	cfg.Database.Driver = "mysql"
	cfg.Database.Targets = map[string]string{}
	cfg.Database.Database = "postgres"
	cfg.Database.TLS = "skip-verify"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2

	cfg.Patch.ModuleDeviceType = 8705
	cfg.Patch.TargetSeconds = 60
	cfg.Patch.SlaveCommand = "03"
	cfg.Patch.ControllerCommand = 0x3f
	cfg.Patch.Sendlist = SendlistDefaults{
		Priority:    30,
		Sureness:    1,
		StartTime:   "1970-01-01 00:00:01",
		RetriesToDo: 5,
		LastTry:     "1970-01-01 00:00:01",
		Comment:     "force config campere by icy",
		NewPinCode:  -1,
	}

	cfg.Tenants.Reserved = []string{
		"information_schema", "mysql", "performance_schema", "sys", "fixeddata",
		"pg_catalog", "pg_toast", "public",
	}
	cfg.Tenants.CacheTTL = 10 * time.Minute

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "fleettool"
	cfg.MQTT.Topic = "fleettool/runs"
	cfg.MQTT.QoS = 1

	cfg.Webhook.Timeout = 10 * time.Second

	cfg.Export.Dir = "exports"

	cfg.Log.Level = "info"
	cfg.Log.Format = "console"

	return cfg
}

// Load builds the configuration: defaults, then the optional YAML file,
// then .env, then the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg.applyEnv()
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultPort(cfg.Database.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	if v := os.Getenv("DB_URL1"); v != "" {
		c.Database.Targets["A"] = v
	}
	if v := os.Getenv("DB_URL2"); v != "" {
		c.Database.Targets["B"] = v
	}
	c.Database.Port = parseInt(getEnv("DB_URL_PORT", ""), c.Database.Port)
	c.Database.User = getEnv("DB_USERNAME", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.TLS = getEnv("DB_TLS", c.Database.TLS)
	c.Database.MaxConns = parseInt(getEnv("DB_POOL_LIMIT", ""), c.Database.MaxConns)

	c.Patch.ModuleDeviceType = parseInt(getEnv("MODULE_DEVICE_TYPE", ""), c.Patch.ModuleDeviceType)
	c.Patch.TargetSeconds = parseInt(getEnv("TARGET_DURATION_SECONDS", ""), c.Patch.TargetSeconds)
	if v := os.Getenv("CONTROLLER_DEVICE_TYPES"); v != "" {
		c.Patch.ControllerDeviceTypes = parseIntList(v)
	}
	c.Patch.Sendlist.Priority = parseInt(getEnv("SENDLIST_PRIORITY", ""), c.Patch.Sendlist.Priority)
	c.Patch.Sendlist.RetriesToDo = parseInt(getEnv("SENDLIST_RETRIES", ""), c.Patch.Sendlist.RetriesToDo)
	c.Patch.Sendlist.Comment = getEnv("SENDLIST_COMMENT", c.Patch.Sendlist.Comment)

	if v := os.Getenv("RESERVED_SCHEMAS"); v != "" {
		c.Tenants.Reserved = splitList(v)
	}
	c.Tenants.CacheTTL = parseDuration(getEnv("TENANT_CACHE_TTL", ""), c.Tenants.CacheTTL)

	c.Redis.Enabled = parseBool(getEnv("REDIS_ENABLED", ""), c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = parseInt(getEnv("REDIS_DB", ""), c.Redis.DB)

	c.MQTT.Enabled = parseBool(getEnv("MQTT_ENABLED", ""), c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)

	c.Webhook.URL = getEnv("WEBHOOK_URL", c.Webhook.URL)
	c.Metrics.Textfile = getEnv("METRICS_TEXTFILE", c.Metrics.Textfile)
	c.Export.Dir = getEnv("EXPORT_DIR", c.Export.Dir)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Validate rejects configurations the patch engine cannot work with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Patch.TargetSeconds < 0 || c.Patch.TargetSeconds > 255 {
		return fmt.Errorf("target duration %d out of range [0,255]", c.Patch.TargetSeconds)
	}
	if !isHexByte(c.Patch.SlaveCommand) {
		return fmt.Errorf("slave command %q must be exactly 2 hex characters", c.Patch.SlaveCommand)
	}
	if c.Patch.ModuleDeviceType <= 0 {
		return errors.New("module device type must be positive")
	}
	return nil
}

func isHexByte(s string) bool {
	if len(s) != 2 {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 8)
	return err == nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(s string) []int {
	var out []int
	for _, p := range splitList(s) {
		if i, err := strconv.Atoi(p); err == nil {
			out = append(out, i)
		}
	}
	return out
}
