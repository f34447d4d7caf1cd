// Package jobdef loads job definitions from YAML or JSON and turns them into
// command specs for the driver.
package jobdef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/stepagent/pkg/builder"
)

// Command is the shared shape of a step and its cancel command. Arguments are
// given either as a literal list (program + args) or as a single command
// line that is split with POSIX shell rules (line).
type Command struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Program     string   `yaml:"program,omitempty" json:"program,omitempty" validate:"required_without=Line,excluded_with=Line"`
	Args        []string `yaml:"args,omitempty" json:"args,omitempty" validate:"excluded_with=Line"`
	Line        string   `yaml:"line,omitempty" json:"line,omitempty" validate:"required_without=Program"`
	WorkDir     string   `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	RunIf       string   `yaml:"run_if,omitempty" json:"run_if,omitempty" validate:"omitempty,runif"`
}

type Step struct {
	Command  `yaml:",inline"`
	OnCancel *Command `yaml:"on_cancel,omitempty" json:"on_cancel,omitempty"`
}

type Job struct {
	ID      uuid.UUID `yaml:"id,omitempty" json:"id,omitempty"`
	Name    string    `yaml:"name,omitempty" json:"name,omitempty"`
	WorkDir string    `yaml:"workdir" json:"workdir" validate:"required"`
	Steps   []Step    `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// Load reads a job file. Files ending in .json are decoded as JSON,
// everything else as YAML.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	job, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// Parse decodes and validates a job. A missing ID is generated.
func Parse(data []byte, format string) (*Job, error) {
	var job Job
	var err error
	switch format {
	case "json":
		err = json.Unmarshal(data, &job)
	case "yaml", "yml", "":
		err = yaml.Unmarshal(data, &job)
	default:
		return nil, fmt.Errorf("unsupported job format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := Validate(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Specs materialises the job's steps. Relative step working directories are
// resolved against the job's working directory.
func (j *Job) Specs() ([]builder.CommandSpec, error) {
	specs := make([]builder.CommandSpec, 0, len(j.Steps))
	for i, s := range j.Steps {
		spec, err := j.spec(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (j *Job) spec(s Step) (builder.CommandSpec, error) {
	program, args, opts, dir, err := j.materialise(s.Command, builder.OnSuccess)
	if err != nil {
		return builder.CommandSpec{}, err
	}
	spec, err := builder.NewCommandSpec(program, args, dir, opts...)
	if err != nil {
		return builder.CommandSpec{}, err
	}
	if s.OnCancel == nil {
		return spec, nil
	}

	program, args, opts, dir, err = j.materialise(*s.OnCancel, builder.Always)
	if err != nil {
		return builder.CommandSpec{}, fmt.Errorf("on_cancel: %w", err)
	}
	cancel, err := builder.NewCancelSpec(program, args, dir, opts...)
	if err != nil {
		return builder.CommandSpec{}, fmt.Errorf("on_cancel: %w", err)
	}
	return spec.WithOnCancel(cancel), nil
}

func (j *Job) materialise(c Command, def builder.RunCondition) (string, []string, []builder.Option, string, error) {
	program, args := c.Program, c.Args
	if c.Line != "" {
		argv, err := shlex.Split(c.Line)
		if err != nil {
			return "", nil, nil, "", fmt.Errorf("splitting command line: %w", err)
		}
		if len(argv) == 0 {
			return "", nil, nil, "", fmt.Errorf("command line %q is empty", c.Line)
		}
		program, args = argv[0], argv[1:]
	}

	cond := def
	if c.RunIf != "" {
		parsed, err := builder.ParseRunCondition(c.RunIf)
		if err != nil {
			return "", nil, nil, "", err
		}
		cond = parsed
	}

	dir := j.WorkDir
	if c.WorkDir != "" {
		dir = c.WorkDir
		if !filepath.IsAbs(dir) && !isWindowsAbs(dir) {
			dir = filepath.Join(j.WorkDir, dir)
		}
	}

	desc := c.Description
	if desc == "" {
		desc = strings.TrimSpace(program + " " + strings.Join(args, " "))
	}
	opts := []builder.Option{builder.WithCondition(cond), builder.WithDescription(desc)}
	return program, args, opts, dir, nil
}

// isWindowsAbs recognises drive-letter paths regardless of the agent's OS,
// so a job written for a Windows agent can be planned anywhere.
func isWindowsAbs(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}
