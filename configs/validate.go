package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"drapo/pkg/logger"
	"drapo/pkg/models"
)

// ValidationError is one problem found in a config or flow file.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the application config. All problems are joined into
// the returned error.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if !slices.Contains(Environments, c.Env) {
		add("env", fmt.Sprintf("must be one of %s", strings.Join(Environments, ", ")))
	}
	for env := range c.Flows {
		if !slices.Contains(Environments, env) {
			add("flows."+env, "unknown environment")
		}
	}
	switch models.InstallMode(c.Runtime.InstallMode) {
	case models.InstallModeScript:
	case models.InstallModeRequirements:
		if c.Runtime.Requirements == "" {
			add("runtime.requirements", "required when install_mode is requirements")
		}
	default:
		add("runtime.install_mode", "must be script or requirements")
	}
	if c.Runtime.GateMaxAttempts < 0 {
		add("runtime.gate_max_attempts", "must not be negative")
	}
	if c.Runtime.ProbeTimeout < 0 {
		add("runtime.probe_timeout", "must not be negative")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", err.Error())
	}
	switch c.Logging.Encoding {
	case "", "console", "json":
	default:
		add("logging.encoding", "must be console or json")
	}
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Size <= 0 {
			add("queue.size", "must be positive")
		}
	case "redis":
		if c.Queue.RedisAddr == "" {
			add("queue.redis_addr", "required for the redis backend")
		}
	default:
		add("queue.backend", "must be memory or redis")
	}
	switch c.Coordination.Backend {
	case "none":
	case "flock":
		if c.Coordination.LockFile == "" {
			add("coordination.lock_file", "required for the flock backend")
		}
	case "etcd":
		if len(c.Coordination.EtcdEndpoints) == 0 {
			add("coordination.etcd_endpoints", "required for the etcd backend")
		}
		if c.Coordination.TTL <= 0 {
			add("coordination.ttl", "must be positive")
		}
	default:
		add("coordination.backend", "must be none, flock or etcd")
	}
	switch c.Archive.Backend {
	case "none":
	case "local":
		if c.Archive.Dir == "" {
			add("archive.dir", "required for the local backend")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			add("archive.s3.bucket", "required for the s3 backend")
		}
	default:
		add("archive.backend", "must be none, local or s3")
	}
	if c.API.Enabled && c.API.APIKey == "" && c.API.JWTSecret == "" {
		add("api", "api_key or jwt_secret is required when the API is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "must be between 0 and 1")
	}
	return errors.Join(errs...)
}

// CommandPolicy rejects commands that match known destructive patterns.
type CommandPolicy struct {
	MaxNameLength    int
	MaxCommandLength int
	Blacklist        []string

	pattern *regexp.Regexp
}

// DefaultCommandPolicy returns the policy applied by FlowSet.Validate.
func DefaultCommandPolicy() *CommandPolicy {
	return NewCommandPolicy(256, 4096, []string{"rm -rf /", ":(){ :|:& };:", "mkfs", "dd if="})
}

// NewCommandPolicy compiles the blacklist into a single pattern.
func NewCommandPolicy(maxName, maxCommand int, blacklist []string) *CommandPolicy {
	quoted := make([]string, len(blacklist))
	for i, p := range blacklist {
		quoted[i] = regexp.QuoteMeta(p)
	}
	p := &CommandPolicy{MaxNameLength: maxName, MaxCommandLength: maxCommand, Blacklist: blacklist}
	if len(quoted) > 0 {
		p.pattern = regexp.MustCompile(strings.Join(quoted, "|"))
	}
	return p
}

// CheckName validates a job or flow name.
func (p *CommandPolicy) CheckName(field, name string) error {
	if name == "" {
		return &ValidationError{Field: field, Message: "name is required"}
	}
	if p.MaxNameLength > 0 && len(name) > p.MaxNameLength {
		return &ValidationError{Field: field, Message: "name exceeds maximum length"}
	}
	return nil
}

// CheckCommand validates a command line.
func (p *CommandPolicy) CheckCommand(field, command string) error {
	if p.MaxCommandLength > 0 && len(command) > p.MaxCommandLength {
		return &ValidationError{Field: field, Message: "command exceeds maximum length"}
	}
	if p.pattern != nil && p.pattern.MatchString(command) {
		return &ValidationError{Field: field, Message: "command contains potentially dangerous patterns"}
	}
	return nil
}

// Validate reports every problem in the flow set using the default
// command policy.
func (s *FlowSet) Validate() error {
	return s.ValidateWith(DefaultCommandPolicy())
}

// ValidateWith reports every problem in the flow set. Problems never stop
// loading; callers decide whether to refuse or only warn.
func (s *FlowSet) ValidateWith(policy *CommandPolicy) error {
	errs := append([]error(nil), s.problems...)
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	for _, name := range s.Jobs.Names() {
		job := s.Jobs[name]
		field := "jobs[" + name + "]"
		if err := policy.CheckName(field+".name", name); err != nil {
			errs = append(errs, err)
		}
		switch job.Type {
		case models.JobTypeConnection:
			if job.Host == "" {
				add(field+".host", "required for connection jobs")
			}
			if job.Port < 1 || job.Port > 65535 {
				add(field+".port", "must be between 1 and 65535")
			}
			if job.RetryInterval < 0 {
				add(field+".retry_interval", "must not be negative")
			}
		case models.JobTypeScript:
			if job.ScriptPath == "" {
				add(field+".script_path", "required for script jobs")
			}
			if err := policy.CheckCommand(field+".args", job.Args); err != nil {
				errs = append(errs, err)
			}
		case models.JobTypeDataBuild:
			if len(job.Command) == 0 {
				add(field+".command", "required for data-build jobs")
			}
			if err := policy.CheckCommand(field+".command", strings.Join(job.Command, " ")); err != nil {
				errs = append(errs, err)
			}
		case models.JobTypeRepoSync:
			if job.RepoDir == "" {
				add(field+".repo_dir", "required for repo-sync jobs")
			}
			if job.Branch == "" {
				add(field+".branch", "required for repo-sync jobs")
			}
		case models.JobTypeDependencyInstall:
		default:
			add(field+".type", fmt.Sprintf("unsupported type %q", job.Type))
		}
	}

	for _, flow := range s.Flows {
		field := "flows[" + flow.Name + "]"
		if err := policy.CheckName(field+".name", flow.Name); err != nil {
			errs = append(errs, err)
		}
		if len(flow.Steps) == 0 {
			add(field+".steps", "flow has no steps")
			continue
		}
		if gate, ok := s.Jobs.Lookup(flow.Gate()); !ok || gate.Type != models.JobTypeConnection {
			add(field+".steps[0]", "first step must be a connection job")
		}
		for i, step := range flow.Steps {
			if _, ok := s.Jobs.Lookup(step); !ok {
				add(fmt.Sprintf("%s.steps[%d]", field, i), fmt.Sprintf("unknown job %q", step))
			}
		}
		if flow.Schedule.Cadence != "" {
			if _, err := flow.Schedule.CronSpec(); err != nil {
				add(field+".schedule", err.Error())
			}
		}
	}
	return errors.Join(errs...)
}

// Problems flattens a joined validation error into its parts.
func Problems(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
