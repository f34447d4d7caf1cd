package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/driver"
	"github.com/andrej220/stepagent/pkg/executor"
	"github.com/andrej220/stepagent/pkg/instruction"
	"github.com/andrej220/stepagent/pkg/jobdef"
	"github.com/andrej220/stepagent/pkg/lg"
	"github.com/andrej220/stepagent/pkg/models"
	"github.com/andrej220/stepagent/pkg/persistence"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run a job locally",
		Long: `Run a job's steps on this machine.

The first interrupt cancels the job: the running step is asked to stop and
its on_cancel command runs. A second interrupt force cancels and skips
cleanup.`,
		Args:         cobra.ExactArgs(1),
		RunE:         runJob,
		SilenceUsage: true,
	}
	cmd.Flags().Duration("grace", driver.DefaultGracePeriod, "time a cancelled step gets to exit before it is killed")
	cmd.Flags().Duration("cancel-timeout", driver.DefaultCancelTimeout, "upper bound for a step's on_cancel command")
	cmd.Flags().String("report", "", "write the job report as JSON to this file")
	return cmd
}

func newLogger(cmd *cobra.Command) lg.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	format, _ := cmd.Flags().GetString("log-format")
	return lg.New(lg.NewConfig("stepctl", debug, format))
}

func runJob(cmd *cobra.Command, args []string) error {
	family, err := osFlag(cmd)
	if err != nil {
		return err
	}
	job, err := jobdef.Load(args[0])
	if err != nil {
		return &ExitError{Message: err.Error(), Code: ExitValidationError}
	}
	specs, err := job.Specs()
	if err != nil {
		return &ExitError{Message: err.Error(), Code: ExitValidationError}
	}
	grace, _ := cmd.Flags().GetDuration("grace")
	cancelTimeout, _ := cmd.Flags().GetDuration("cancel-timeout")
	reportPath, _ := cmd.Flags().GetString("report")

	logger := newLogger(cmd).With(lg.String("job", job.Name))
	defer logger.Sync()

	signals := instruction.NewChannel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go relaySignals(ctx, sigCh, signals, logger)

	engine := executor.NewLocalEngine(logger)
	engine.Stdout = cmd.OutOrStdout()
	engine.Stderr = cmd.ErrOrStderr()
	d := driver.New(engine, driver.Options{
		OS:            family,
		GracePeriod:   grace,
		CancelTimeout: cancelTimeout,
		Logger:        logger,
	})
	res := d.Run(ctx, specs, signals)

	printResult(cmd.OutOrStdout(), res)
	if reportPath != "" {
		report := models.NewJobReport(models.JobRequest{ExecutionUID: uuid.New(), Job: *job}, "stepctl", res)
		if err := persistence.WriteJSON(report, reportPath); err != nil {
			logger.Error("failed to write report", lg.Err(err))
		}
	}
	return exitFor(res)
}

// relaySignals turns the first signal into a cancel and any later one into
// a force cancel.
func relaySignals(ctx context.Context, sigs <-chan os.Signal, ch *instruction.Channel, logger lg.Logger) {
	next := instruction.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			logger.Warn("signal received", lg.String("signal", sig.String()), lg.String("instruction", next.String()))
			ch.Set(next)
			next = instruction.ForceCancel()
		}
	}
}

func printResult(w io.Writer, res driver.JobResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTEP\tRESULT\tEXIT\tTIME")
	for _, s := range res.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index+1, describe(s.Description), s.Disposition, exitText(s), s.Duration.Round(time.Millisecond))
		if s.OnCancel != nil {
			c := s.OnCancel
			fmt.Fprintf(tw, "\t  on cancel: %s\t%s\t%s\t%s\n", describe(c.Description), c.Disposition, exitText(*c), c.Duration.Round(time.Millisecond))
		}
	}
	tw.Flush()
	ran, skipped := res.Counts()
	fmt.Fprintf(w, "outcome: %s (%d ran, %d not run)\n", res.Outcome, ran, skipped)
}

func exitText(s driver.StepResult) string {
	switch {
	case s.Disposition == driver.NotRun && s.Err != nil:
		return s.Err.Error()
	case s.Disposition == driver.NotRun:
		return "-"
	case s.Err != nil:
		return s.Err.Error()
	case s.Status.Signaled:
		return "signal"
	}
	return fmt.Sprint(s.Status.Code)
}

func exitFor(res driver.JobResult) error {
	switch res.Outcome {
	case builder.Success:
		return nil
	case builder.Cancelled:
		return &ExitError{Message: "job cancelled", Code: ExitCancelled}
	}
	for _, s := range res.Steps {
		if s.Disposition == driver.NotRun && s.Err != nil {
			return &ExitError{Message: s.Err.Error(), Code: ExitValidationError}
		}
	}
	return &ExitError{Message: "job failed", Code: ExitStepFailed}
}
