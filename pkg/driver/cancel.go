package driver

import (
	"context"
	"time"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/instruction"
	"github.com/andrej220/stepagent/pkg/lg"
)

// cancel stops a running step in response to sig and marks it Cancelled.
// A cooperative cancel lets the step settle and then runs its cancel
// command; a forced one kills the step and skips cleanup.
func (d *Driver) cancel(ctx context.Context, res *StepResult, spec builder.CommandSpec, proc executor.Process, done <-chan waitResult, sig instruction.Instruction, outcome builder.Outcome, signals instruction.Source, logger lg.Logger) {
	defer func() {
		res.Disposition = Cancelled
		res.Duration = time.Since(res.Started)
	}()

	if sig.ShouldForceCancel() {
		logger.Warn("force cancelling step")
		d.kill(proc, done, res, logger)
		return
	}

	logger.Info("cancelling step")
	if !d.stop(ctx, proc, done, res, signals, logger) {
		return
	}

	cs, ok := spec.OnCancel()
	if !ok {
		return
	}
	if !cs.Condition().ShouldRun(outcome) {
		logger.Info("cancel command skipped", lg.String("run_if", cs.Condition().String()), lg.String("outcome", outcome.String()))
		return
	}
	res.OnCancel = d.runCancelCommand(ctx, cs, signals, logger.With(lg.Bool("on_cancel", true)))
}

// stop asks the process to exit and waits for it to settle. If the grace
// period runs out the process is killed. It returns false when a forced
// cancel arrives while waiting, meaning cleanup must be skipped.
func (d *Driver) stop(ctx context.Context, proc executor.Process, done <-chan waitResult, res *StepResult, signals instruction.Source, logger lg.Logger) bool {
	if err := proc.Terminate(false); err != nil {
		logger.Warn("terminate failed", lg.Err(err))
	}
	grace := time.NewTimer(d.opts.GracePeriod)
	defer grace.Stop()

	for {
		changed := signals.Changed()
		if signals.Load().ShouldForceCancel() {
			logger.Warn("force cancel while step was stopping")
			d.kill(proc, done, res, logger)
			return false
		}
		select {
		case w := <-done:
			res.Status = w.status
			return true
		case <-changed:
		case <-ctx.Done():
			d.kill(proc, done, res, logger)
			return false
		case <-grace.C:
			logger.Warn("step did not stop within grace period", lg.Duration("grace", d.opts.GracePeriod))
			d.kill(proc, done, res, logger)
			return true
		}
	}
}

// kill terminates the process forcefully and waits for it to be reaped.
func (d *Driver) kill(proc executor.Process, done <-chan waitResult, res *StepResult, logger lg.Logger) {
	if err := proc.Terminate(true); err != nil {
		logger.Warn("kill failed", lg.Err(err))
	}
	select {
	case w := <-done:
		res.Status = w.status
	case <-time.After(killWait):
		logger.Error("process did not exit after kill", lg.Duration("waited", killWait))
		res.Status = executor.ExitStatus{Code: -1, Signaled: true}
	}
}

// runCancelCommand runs a cancelled step's cleanup to completion, unless it
// outlives CancelTimeout or a forced cancel arrives.
func (d *Driver) runCancelCommand(ctx context.Context, cs builder.CancelSpec, signals instruction.Source, logger lg.Logger) *StepResult {
	res, proc, done := d.start(ctx, cs, logger)
	if proc == nil {
		return &res
	}

	timeout := time.NewTimer(d.opts.CancelTimeout)
	defer timeout.Stop()

	abort := func(reason string) *StepResult {
		logger.Warn("aborting cancel command", lg.String("reason", reason))
		d.kill(proc, done, &res, logger)
		res.Disposition = Cancelled
		res.Duration = time.Since(res.Started)
		return &res
	}

	for {
		changed := signals.Changed()
		if signals.Load().ShouldForceCancel() {
			return abort("force cancel")
		}
		select {
		case w := <-done:
			d.complete(&res, w, logger)
			return &res
		case <-changed:
		case <-ctx.Done():
			return abort(ctx.Err().Error())
		case <-timeout.C:
			return abort("timeout")
		}
	}
}
