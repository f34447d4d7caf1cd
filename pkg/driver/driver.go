// Package driver walks a job's steps in order, deciding which run, handing
// them to an execution engine, and honouring cancel instructions.
package driver

import (
	"context"
	"time"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/instruction"
	"github.com/andrej220/stepagent/pkg/lg"
)

const (
	DefaultGracePeriod   = 10 * time.Second
	DefaultCancelTimeout = 5 * time.Minute
	// killWait bounds how long the driver waits for a killed process to be reaped.
	killWait = 30 * time.Second
)

type Options struct {
	// OS is the family invocations are built for.
	OS builder.OSFamily
	// GracePeriod is how long a cooperatively terminated step may take to
	// exit before it is killed.
	GracePeriod time.Duration
	// CancelTimeout bounds the cancel command of a cancelled step.
	CancelTimeout time.Duration
	Logger        lg.Logger
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.CancelTimeout <= 0 {
		o.CancelTimeout = DefaultCancelTimeout
	}
	if o.Logger == nil {
		o.Logger = lg.Discard
	}
	return o
}

type Driver struct {
	engine executor.Engine
	opts   Options
}

func New(engine executor.Engine, opts Options) *Driver {
	return &Driver{engine: engine, opts: opts.withDefaults()}
}

type waitResult struct {
	status executor.ExitStatus
	err    error
}

// Run executes specs sequentially. Cancelling ctx is treated as a forced
// cancel. Run never returns an error: every failure is recorded in the
// result of the step it belongs to.
func (d *Driver) Run(ctx context.Context, specs []builder.CommandSpec, signals instruction.Source) JobResult {
	if signals == nil {
		signals = instruction.Static(instruction.None())
	}
	logger := d.opts.Logger
	result := JobResult{Steps: make([]StepResult, len(specs)), Outcome: builder.Success}
	for i, s := range specs {
		result.Steps[i] = StepResult{Index: i, Description: s.Description()}
	}

	invalid := false
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			result.Steps[i].Err = err
			invalid = true
			logger.Error("invalid step", lg.Int("step", i), lg.Err(err))
		}
	}
	if invalid {
		result.Outcome = builder.Failure
		return result
	}

	for i, spec := range specs {
		if signals.Load().ShouldCancel() || ctx.Err() != nil {
			logger.Info("job cancelled before step", lg.Int("step", i), lg.String("instruction", signals.Load().String()))
			result.Outcome = builder.Cancelled
			break
		}
		if !spec.Condition().ShouldRun(result.Outcome) {
			logger.Info("step skipped",
				lg.Int("step", i),
				lg.String("description", spec.Description()),
				lg.String("run_if", spec.Condition().String()),
				lg.String("outcome", result.Outcome.String()))
			continue
		}

		res := d.runStep(ctx, spec, result.Outcome, signals, logger.With(lg.Int("step", i)))
		res.Index = i
		if res.OnCancel != nil {
			res.OnCancel.Index = i
		}
		result.Steps[i] = res
		if res.Disposition == Cancelled {
			result.Outcome = builder.Cancelled
			break
		}
		result.Outcome = result.Outcome.After(res.Passed())
	}
	logger.Info("job finished", lg.String("outcome", result.Outcome.String()))
	return result
}

func (d *Driver) runStep(ctx context.Context, spec builder.CommandSpec, outcome builder.Outcome, signals instruction.Source, logger lg.Logger) StepResult {
	res, proc, done := d.start(ctx, spec, logger)
	if proc == nil {
		return res
	}

	for {
		// Take the change channel before reading, so a signal set between
		// the two is not missed.
		changed := signals.Changed()
		if sig := signals.Load(); sig.ShouldCancel() {
			d.cancelUnlessExited(ctx, &res, spec, proc, done, sig, outcome, signals, logger)
			return res
		}
		select {
		case w := <-done:
			d.complete(&res, w, logger)
			return res
		case <-changed:
		case <-ctx.Done():
			d.cancelUnlessExited(ctx, &res, spec, proc, done, instruction.ForceCancel(), outcome, signals, logger)
			return res
		}
	}
}

// cancelUnlessExited completes the step instead of cancelling it when the
// process has already been reaped, so a recycled pid is never signalled.
func (d *Driver) cancelUnlessExited(ctx context.Context, res *StepResult, spec builder.CommandSpec, proc executor.Process, done <-chan waitResult, sig instruction.Instruction, outcome builder.Outcome, signals instruction.Source, logger lg.Logger) {
	select {
	case w := <-done:
		logger.Info("step exited before the cancel took effect", lg.String("instruction", sig.String()))
		d.complete(res, w, logger)
		return
	default:
	}
	d.cancel(ctx, res, spec, proc, done, sig, outcome, signals, logger)
}

// runnable is a command the driver can start: a step or a cancel command.
type runnable interface {
	builder.Command
	Description() string
}

// start builds and spawns one command. A nil process means the launch
// failed and res is already final.
func (d *Driver) start(ctx context.Context, cmd runnable, logger lg.Logger) (StepResult, executor.Process, <-chan waitResult) {
	inv := builder.Build(cmd, d.opts.OS)
	res := StepResult{Description: cmd.Description(), Invocation: &inv, Started: time.Now()}

	logger.Info("step starting", lg.String("description", cmd.Description()), lg.String("invocation", inv.String()), lg.String("dir", inv.Dir))
	proc, err := d.engine.Spawn(ctx, inv)
	if err != nil {
		logger.Error("step failed to launch", lg.Err(err))
		res.Disposition = Completed
		res.Status = executor.ExitStatus{Code: -1}
		res.Err = err
		return res, nil, nil
	}

	done := make(chan waitResult, 1)
	go func() {
		st, err := proc.Wait()
		done <- waitResult{status: st, err: err}
	}()
	return res, proc, done
}

func (d *Driver) complete(res *StepResult, w waitResult, logger lg.Logger) {
	res.Disposition = Completed
	res.Status = w.status
	res.Err = w.err
	res.Duration = time.Since(res.Started)
	if res.Passed() {
		logger.Info("step passed", lg.Duration("duration", res.Duration))
		return
	}
	logger.Warn("step failed", lg.Int("exit_code", w.status.Code), lg.Err(w.err), lg.Duration("duration", res.Duration))
}
