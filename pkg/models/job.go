package models

import (
	"sort"
	"strings"
	"time"
)

// JobType selects the handler that executes a job.
type JobType string

const (
	JobTypeConnection        JobType = "connection"
	JobTypeScript            JobType = "script"
	JobTypeDataBuild         JobType = "data-build"
	JobTypeRepoSync          JobType = "repo-sync"
	JobTypeDependencyInstall JobType = "dependency-install"
)

// jobTypeAliases maps the legacy spellings found in older flow files.
var jobTypeAliases = map[string]JobType{
	"connection":         JobTypeConnection,
	"script":             JobTypeScript,
	"python":             JobTypeScript,
	"data-build":         JobTypeDataBuild,
	"data_build":         JobTypeDataBuild,
	"dbt":                JobTypeDataBuild,
	"repo-sync":          JobTypeRepoSync,
	"repo_sync":          JobTypeRepoSync,
	"git":                JobTypeRepoSync,
	"dependency-install": JobTypeDependencyInstall,
	"dependency_install": JobTypeDependencyInstall,
	"dependencies":       JobTypeDependencyInstall,
}

// ParseJobType normalizes a declared type. Unrecognized values are kept
// verbatim so the engine can report them as unhandled.
func ParseJobType(s string) JobType {
	key := strings.ToLower(strings.TrimSpace(s))
	if t, ok := jobTypeAliases[key]; ok {
		return t
	}
	return JobType(key)
}

// Known reports whether a handler exists for the type.
func (t JobType) Known() bool {
	switch t {
	case JobTypeConnection, JobTypeScript, JobTypeDataBuild, JobTypeRepoSync, JobTypeDependencyInstall:
		return true
	}
	return false
}

// DefaultRetryInterval applies when a connection job omits its interval.
const DefaultRetryInterval = 10 * time.Minute

// Job is a named unit of work. Paths are already resolved against the base
// directory by the time a Job reaches a handler.
type Job struct {
	Name string  `json:"name"`
	Type JobType `json:"type"`

	// connection
	Host          string        `json:"host,omitempty"`
	Port          int           `json:"port,omitempty"`
	RetryInterval time.Duration `json:"retry_interval,omitempty"`

	// script
	ScriptPath  string `json:"script_path,omitempty"`
	Interpreter string `json:"interpreter,omitempty"`
	Args        string `json:"args,omitempty"`

	// data-build
	Command    []string `json:"command,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`

	// repo-sync
	RepoDir string `json:"repo_dir,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// JobTable maps job names to jobs. It is read-only once built.
type JobTable map[string]Job

// Lookup returns the job registered under name.
func (t JobTable) Lookup(name string) (Job, bool) {
	j, ok := t[name]
	return j, ok
}

// Names returns the job names in lexical order.
func (t JobTable) Names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
