package builder

import "strings"

// Command is the part of a step the builder needs to produce an Invocation.
// Both CommandSpec and CancelSpec satisfy it.
type Command interface {
	Program() string
	Args() []string
	WorkingDir() string
}

type command struct {
	program     string
	args        []string
	workDir     string
	condition   RunCondition
	description string
}

func (c command) Program() string { return c.program }
func (c command) WorkingDir() string { return c.workDir }
func (c command) Condition() RunCondition { return c.condition }
func (c command) Description() string { return c.description }

// Args returns a copy of the literal argument tokens.
func (c command) Args() []string {
	if c.args == nil {
		return nil
	}
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

func (c command) validate() error {
	if strings.TrimSpace(c.program) == "" {
		return &ConfigError{Description: c.description, Field: "program", Reason: "is empty"}
	}
	if strings.TrimSpace(c.workDir) == "" {
		return &ConfigError{Description: c.description, Field: "working directory", Reason: "is not set"}
	}
	return nil
}

// Option customises a command at construction time.
type Option func(*command)

func WithCondition(c RunCondition) Option {
	return func(cmd *command) { cmd.condition = c }
}

func WithDescription(d string) Option {
	return func(cmd *command) { cmd.description = d }
}

func newCommand(program string, args []string, workDir string, def RunCondition, opts []Option) command {
	cmd := command{
		program:   program,
		workDir:   workDir,
		condition: def,
	}
	if len(args) > 0 {
		cmd.args = make([]string, len(args))
		copy(cmd.args, args)
	}
	for _, opt := range opts {
		opt(&cmd)
	}
	return cmd
}

// CommandSpec describes one step of a job. It is immutable once built.
type CommandSpec struct {
	command
	onCancel *CancelSpec
}

// CancelSpec is the command run when its parent step is cancelled
// cooperatively. It has no cancel command of its own.
type CancelSpec struct {
	command
}

// NewCommandSpec builds a step. The default condition is OnSuccess.
func NewCommandSpec(program string, args []string, workDir string, opts ...Option) (CommandSpec, error) {
	spec := CommandSpec{command: newCommand(program, args, workDir, OnSuccess, opts)}
	if err := spec.Validate(); err != nil {
		return CommandSpec{}, err
	}
	return spec, nil
}

// NewCancelSpec builds a cancel command. The default condition is Always.
func NewCancelSpec(program string, args []string, workDir string, opts ...Option) (CancelSpec, error) {
	spec := CancelSpec{command: newCommand(program, args, workDir, Always, opts)}
	if err := spec.Validate(); err != nil {
		return CancelSpec{}, err
	}
	return spec, nil
}

// WithOnCancel returns a copy of s that runs c if s is cancelled while running.
func (s CommandSpec) WithOnCancel(c CancelSpec) CommandSpec {
	s.onCancel = &c
	return s
}

// OnCancel returns the step's cancel command, if any.
func (s CommandSpec) OnCancel() (CancelSpec, bool) {
	if s.onCancel == nil {
		return CancelSpec{}, false
	}
	return *s.onCancel, true
}

// Validate checks the construction invariants. A zero CommandSpec is invalid.
func (s CommandSpec) Validate() error {
	if err := s.command.validate(); err != nil {
		return err
	}
	if s.onCancel != nil {
		if err := s.onCancel.Validate(); err != nil {
			ce := err.(*ConfigError)
			return &ConfigError{Description: s.description, Field: "on-cancel " + ce.Field, Reason: ce.Reason}
		}
	}
	return nil
}

func (s CancelSpec) Validate() error {
	return s.command.validate()
}
