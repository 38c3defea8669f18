package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"drapo/pkg/logger"
	"drapo/pkg/models"
)

// Paths holds the base directory and the variables available to ${var}
// substitution in flow files.
type Paths struct {
	BaseDir string            `yaml:"base_dir"`
	Vars    map[string]string `yaml:"vars"`
}

// Runtime holds defaults threaded to every flow run.
type Runtime struct {
	Interpreter     string        `yaml:"interpreter"`
	ScriptExtension string        `yaml:"script_extension"`
	InstallMode     string        `yaml:"install_mode"`
	Requirements    string        `yaml:"requirements"`
	StrictGate      bool          `yaml:"strict_gate"`
	GateMaxAttempts int           `yaml:"gate_max_attempts"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

// Logging configures console and file output.
type Logging struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	RotateDaily bool   `yaml:"rotate_daily"`
}

// API configures the optional HTTP surface of the daemon.
type API struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	APIKey       string `yaml:"api_key"`
	JWTSecret    string `yaml:"jwt_secret"`
	JWTIssuer    string `yaml:"jwt_issuer"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Queue selects where triggers are buffered.
type Queue struct {
	Backend       string        `yaml:"backend"` // memory or redis
	Size          int           `yaml:"size"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Stream        string        `yaml:"stream"`
	Block         time.Duration `yaml:"block"`
}

// Coordination selects how a single active scheduler is guaranteed.
type Coordination struct {
	Backend       string   `yaml:"backend"` // none, flock or etcd
	LockFile      string   `yaml:"lock_file"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	TTL           int      `yaml:"ttl"`
	Election      string   `yaml:"election"`
}

// S3 holds bucket settings for the transcript archive.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Archive selects where run transcripts are kept.
type Archive struct {
	Backend string `yaml:"backend"` // none, local or s3
	Dir     string `yaml:"dir"`
	S3      S3     `yaml:"s3"`
}

// Tracing configures OTLP export.
type Tracing struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Config is the application configuration file.
//
// Sections:
//   - Paths: base directory and ${var} substitutions
//   - Flows: environment name to flow file
//   - Runtime: interpreter, gate and install defaults
//   - Logging, API, Queue, Coordination, Archive, Tracing: daemon plumbing
type Config struct {
	Env          string            `yaml:"env"`
	Paths        Paths             `yaml:"paths"`
	Flows        map[string]string `yaml:"flows"`
	Runtime      Runtime           `yaml:"runtime"`
	Logging      Logging           `yaml:"logging"`
	API          API               `yaml:"api"`
	Queue        Queue             `yaml:"queue"`
	Coordination Coordination      `yaml:"coordination"`
	Archive      Archive           `yaml:"archive"`
	Tracing      Tracing           `yaml:"tracing"`
}

// Environments the flows map may name.
var Environments = []string{"prod", "test", "local"}

// Default returns the configuration used for anything the file omits.
func Default() Config {
	return Config{
		Env:   "prod",
		Paths: Paths{BaseDir: ".", Vars: map[string]string{}},
		Flows: map[string]string{},
		Runtime: Runtime{
			Interpreter:     "python3",
			ScriptExtension: ".py",
			InstallMode:     string(models.InstallModeScript),
			ProbeTimeout:    5 * time.Second,
		},
		Logging: Logging{
			Level:       "info",
			MaxSizeMB:   100,
			MaxBackups:  30,
			MaxAgeDays:  30,
			RotateDaily: true,
		},
		API: API{
			Addr:         "127.0.0.1:8080",
			JWTIssuer:    "drapo",
			MaxBodyBytes: 1 << 20,
		},
		Queue: Queue{
			Backend:   "memory",
			Size:      64,
			RedisAddr: "localhost:6379",
			Block:     2 * time.Second,
		},
		Coordination: Coordination{
			Backend:       "flock",
			LockFile:      "drapo.lock",
			EtcdEndpoints: []string{"localhost:2379"},
			TTL:           15,
			Election:      "drapo-scheduler",
		},
		Archive: Archive{
			Backend: "none",
			Dir:     "runs",
		},
		Tracing: Tracing{
			Endpoint:     "localhost:4318",
			SamplingRate: 1.0,
		},
	}
}

// Load reads the YAML file at path, applies environment overrides,
// resolves relative paths against the file's directory and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.normalize(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployment environments override secrets and endpoints.
func (c *Config) applyEnv() {
	c.Env = getEnv("DRAPO_ENV", c.Env)
	c.Logging.Level = getEnv("DRAPO_LOG_LEVEL", c.Logging.Level)
	c.Queue.RedisAddr = getEnv("REDIS_ADDR", c.Queue.RedisAddr)
	c.Queue.RedisPassword = getEnv("REDIS_PASSWORD", c.Queue.RedisPassword)
	c.API.APIKey = getEnv("DRAPO_API_KEY", c.API.APIKey)
	c.API.JWTSecret = getEnv("DRAPO_JWT_SECRET", c.API.JWTSecret)
	c.Runtime.GateMaxAttempts = getEnvAsInt("DRAPO_GATE_MAX_ATTEMPTS", c.Runtime.GateMaxAttempts)
	if v := getEnv("ETCD_ENDPOINTS", ""); v != "" {
		c.Coordination.EtcdEndpoints = strings.Split(v, ",")
	}
}

func (c *Config) normalize(configDir string) {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Paths.BaseDir == "" {
		c.Paths.BaseDir = "."
	}
	c.Paths.BaseDir = absUnder(configDir, c.Paths.BaseDir)
	if c.Paths.Vars == nil {
		c.Paths.Vars = map[string]string{}
	}
	for env, p := range c.Flows {
		c.Flows[env] = absUnder(c.Paths.BaseDir, p)
	}
	if c.Logging.File != "" {
		c.Logging.File = absUnder(c.Paths.BaseDir, c.Logging.File)
	}
	if c.Coordination.LockFile != "" {
		c.Coordination.LockFile = absUnder(c.Paths.BaseDir, c.Coordination.LockFile)
	}
	if c.Archive.Dir != "" {
		c.Archive.Dir = absUnder(c.Paths.BaseDir, c.Archive.Dir)
	}
	if c.Runtime.Requirements != "" {
		c.Runtime.Requirements = absUnder(c.Paths.BaseDir, Expand(c.Runtime.Requirements, c.Paths.Vars))
	}
	c.Runtime.Interpreter = Expand(c.Runtime.Interpreter, c.Paths.Vars)
	if isPath(c.Runtime.Interpreter) {
		c.Runtime.Interpreter = absUnder(c.Paths.BaseDir, c.Runtime.Interpreter)
	}
	if c.Runtime.ScriptExtension != "" && !strings.HasPrefix(c.Runtime.ScriptExtension, ".") {
		c.Runtime.ScriptExtension = "." + c.Runtime.ScriptExtension
	}
}

// FlowFile returns the flow file configured for env.
func (c *Config) FlowFile(env string) (string, error) {
	p, ok := c.Flows[env]
	if !ok || p == "" {
		return "", fmt.Errorf("no flow file configured for environment %q", env)
	}
	return p, nil
}

// RunOptions builds the per-invocation options from the runtime section.
func (c *Config) RunOptions() models.RunOptions {
	return models.RunOptions{
		FallbackInterpreter: c.Runtime.Interpreter,
		ScriptExtension:     c.Runtime.ScriptExtension,
		BaseDir:             c.Paths.BaseDir,
		InstallMode:         models.InstallMode(c.Runtime.InstallMode),
		Requirements:        c.Runtime.Requirements,
		StrictGate:          c.Runtime.StrictGate,
		GateMaxAttempts:     c.Runtime.GateMaxAttempts,
	}
}

// LoggerConfig maps the logging section onto the logger package.
func (c *Config) LoggerConfig(service string) logger.Config {
	lc := logger.DefaultConfig(service)
	lc.Level = c.Logging.Level
	lc.Encoding = c.Logging.Encoding
	lc.File = c.Logging.File
	lc.MaxSizeMB = c.Logging.MaxSizeMB
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAgeDays = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc
}

// absUnder resolves p against base unless it is already absolute.
func absUnder(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
