package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"drapo/pkg/models"
)

// jobRecord is one [[jobs]] table. Entries with type = "flow" declare flows.
type jobRecord struct {
	Name                 string   `toml:"name"`
	Type                 string   `toml:"type"`
	Host                 string   `toml:"host"`
	Port                 int      `toml:"port"`
	RetryIntervalMin     *int     `toml:"retry_interval_min"`
	RetryIntervalMinutes *int     `toml:"retry_interval_minutes"`
	ScriptPath           string   `toml:"script_path"`
	Interpreter          string   `toml:"interpreter"`
	Args                 string   `toml:"args"`
	Command              []string `toml:"command"`
	Cmd                  []string `toml:"cmd"`
	WorkingDir           string   `toml:"working_dir"`
	RepoDir              string   `toml:"repo_dir"`
	Branch               string   `toml:"branch"`

	Schedule string   `toml:"schedule"`
	Time     string   `toml:"time"`
	Steps    []string `toml:"steps"`
}

type flowRecord struct {
	Name     string   `toml:"name"`
	Schedule string   `toml:"schedule"`
	Time     string   `toml:"time"`
	Steps    []string `toml:"steps"`
}

type flowFile struct {
	Jobs  []jobRecord  `toml:"jobs"`
	Flows []flowRecord `toml:"flows"`
}

// FlowSet is a loaded flow file: the job table and the flows over it.
type FlowSet struct {
	Path  string
	Jobs  models.JobTable
	Flows []models.Flow

	// problems found while building, reported by Validate
	problems []error
}

// Flow returns the flow called name.
func (s *FlowSet) Flow(name string) (models.Flow, bool) {
	for _, f := range s.Flows {
		if f.Name == name {
			return f, true
		}
	}
	return models.Flow{}, false
}

// LoadFlowFile parses a TOML flow file. ${var} references are substituted
// from paths.Vars and relative paths are resolved against paths.BaseDir.
// Only unreadable or unparsable files fail; everything else is reported by
// Validate so that a bad step cannot stop the other flows.
func LoadFlowFile(path string, paths Paths) (*FlowSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return ParseFlowFile(path, data, paths)
}

// ParseFlowFile is LoadFlowFile on bytes already in memory.
func ParseFlowFile(path string, data []byte, paths Paths) (*FlowSet, error) {
	var raw flowFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse flow file %s: %w", path, err)
	}

	set := &FlowSet{Path: path, Jobs: models.JobTable{}}
	seenFlows := map[string]bool{}

	addFlow := func(field string, r flowRecord) {
		if r.Name == "" {
			set.problems = append(set.problems, &ValidationError{Field: field + ".name", Message: "name is required"})
			return
		}
		if seenFlows[r.Name] {
			set.problems = append(set.problems, &ValidationError{Field: field, Message: fmt.Sprintf("duplicate flow %q", r.Name)})
			return
		}
		seenFlows[r.Name] = true

		flow := models.Flow{Name: r.Name, Steps: r.Steps}
		if r.Schedule != "" {
			cadence, ok := models.ParseCadence(r.Schedule)
			if !ok {
				cadence = models.Cadence(r.Schedule)
			}
			flow.Schedule = models.Schedule{Cadence: cadence, At: r.Time}
		}
		set.Flows = append(set.Flows, flow)
	}

	for i, r := range raw.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)
		if strings.EqualFold(r.Type, "flow") {
			addFlow(field, flowRecord{Name: r.Name, Schedule: r.Schedule, Time: r.Time, Steps: r.Steps})
			continue
		}
		if r.Name == "" {
			set.problems = append(set.problems, &ValidationError{Field: field + ".name", Message: "name is required"})
			continue
		}
		if _, dup := set.Jobs[r.Name]; dup {
			set.problems = append(set.problems, &ValidationError{Field: field, Message: fmt.Sprintf("duplicate job %q, keeping the last one", r.Name)})
		}
		job, missing := buildJob(r, paths)
		for _, v := range missing {
			set.problems = append(set.problems, &ValidationError{Field: "jobs[" + r.Name + "]", Message: fmt.Sprintf("undefined variable ${%s}", v)})
		}
		set.Jobs[r.Name] = job
	}
	for i, r := range raw.Flows {
		addFlow(fmt.Sprintf("flows[%d]", i), r)
	}
	return set, nil
}

func buildJob(r jobRecord, paths Paths) (models.Job, []string) {
	var missing []string
	expand := func(s string) string {
		out, m := ExpandStrict(s, paths.Vars)
		missing = append(missing, m...)
		return out
	}
	resolve := func(s string) string {
		return absUnder(paths.BaseDir, expand(s))
	}

	job := models.Job{
		Name:        r.Name,
		Type:        models.ParseJobType(r.Type),
		Host:        expand(r.Host),
		Port:        r.Port,
		ScriptPath:  resolve(r.ScriptPath),
		Interpreter: expand(r.Interpreter),
		Args:        expand(r.Args),
		WorkingDir:  resolve(r.WorkingDir),
		RepoDir:     resolve(r.RepoDir),
		Branch:      expand(r.Branch),
	}
	if isPath(job.Interpreter) {
		job.Interpreter = absUnder(paths.BaseDir, job.Interpreter)
	}

	cmd := r.Command
	if len(cmd) == 0 {
		cmd = r.Cmd
	}
	for _, c := range cmd {
		job.Command = append(job.Command, expand(c))
	}

	if job.Type == models.JobTypeConnection {
		job.RetryInterval = models.DefaultRetryInterval
		switch {
		case r.RetryIntervalMinutes != nil:
			job.RetryInterval = time.Duration(*r.RetryIntervalMinutes) * time.Minute
		case r.RetryIntervalMin != nil:
			job.RetryInterval = time.Duration(*r.RetryIntervalMin) * time.Minute
		}
	}
	return job, missing
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// Expand substitutes ${name} from vars, then from the process environment.
// Unknown names are left as written.
func Expand(s string, vars map[string]string) string {
	out, _ := ExpandStrict(s, vars)
	return out
}

// ExpandStrict is Expand that also reports the names it could not resolve.
func ExpandStrict(s string, vars map[string]string) (string, []string) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var missing []string
	out := varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	sort.Strings(missing)
	return out, missing
}

func isPath(s string) bool {
	return strings.ContainsAny(s, `/\`)
}
