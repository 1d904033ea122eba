package soap

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables selecting the transport profile, in lookup order.
const (
	ProfileEnv         = "SOAP_ENV"
	FallbackProfileEnv = "APP_ENV"
	DefaultProfile     = "dev"
)

// Profiles maps a profile name such as "dev" or "prod" to its transport defaults.
type Profiles map[string]TransportOptions

// DefaultProfiles returns the profiles used when no configuration file is given.
func DefaultProfiles() Profiles {
	return Profiles{
		"dev": {
			Timeout:         DefaultTimeout,
			FollowRedirects: Bool(false),
		},
		"prod": {
			Timeout:            DefaultTimeout,
			FollowRedirects:    Bool(false),
			InsecureSkipVerify: Bool(false),
		},
	}
}

// Resolve returns the options of the named profile.
func (p Profiles) Resolve(name string) (TransportOptions, error) {
	opts, ok := p[name]
	if !ok {
		return TransportOptions{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownProfile, name, p.Names())
	}
	return opts, nil
}

// Names returns the configured profile names, sorted.
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ProfileFromEnv returns the profile named by SOAP_ENV or APP_ENV, or "dev".
func ProfileFromEnv() string {
	for _, key := range []string{ProfileEnv, FallbackProfileEnv} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return DefaultProfile
}

// AuditConfig selects and configures the audit sink.
type AuditConfig struct {
	// Driver is one of "file", "memory", "postgres" or "redis".
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`

	PostgresDSN string `yaml:"postgresDsn"`

	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	KeyPrefix     string        `yaml:"keyPrefix"`
	// RedisTTL expires stored artifacts. Zero keeps the trail permanently;
	// any other value lets Redis delete records after the TTL.
	RedisTTL      time.Duration `yaml:"redisTtl"`
}

// Config is the file form of a client setup.
type Config struct {
	Endpoint   string      `yaml:"endpoint"`
	Namespaces Namespaces  `yaml:"namespaces"`
	Profiles   Profiles    `yaml:"profiles"`
	Audit      AuditConfig `yaml:"audit"`
	// RawValues disables escaping of parameter values.
	RawValues bool `yaml:"rawValues"`
}

// LoadConfig reads a YAML configuration file. ${VAR} references are expanded
// from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadProfiles returns the transport profiles of the configuration file at path.
func LoadProfiles(path string) (Profiles, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Profiles, nil
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if len(c.Profiles) == 0 {
		c.Profiles = DefaultProfiles()
	}
	if c.Audit.Driver == "" {
		c.Audit.Driver = "file"
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = DefaultAuditDir
	}
	if c.Audit.KeyPrefix == "" {
		c.Audit.KeyPrefix = "soap:audit:"
	}
}

func (c *Config) validate() error {
	if err := c.Namespaces.Validate(); err != nil {
		return err
	}
	switch c.Audit.Driver {
	case "file", "memory":
	case "postgres":
		if c.Audit.PostgresDSN == "" {
			return fmt.Errorf("audit.postgresDsn is required when driver is 'postgres'")
		}
	case "redis":
		if c.Audit.RedisAddr == "" {
			return fmt.Errorf("audit.redisAddr is required when driver is 'redis'")
		}
	default:
		return fmt.Errorf("audit.driver must be 'file', 'memory', 'postgres' or 'redis', got '%s'", c.Audit.Driver)
	}
	return nil
}
