// Package cli implements the stepctl command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const (
	ExitSuccess         = 0
	ExitStepFailed      = 1
	ExitValidationError = 2
	ExitCancelled       = 4
)

// ExitError carries the process exit code for a finished run.
type ExitError struct {
	Message string
	Code    int
}

func (e *ExitError) Error() string {
	return e.Message
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stepctl",
		Short:         "Run and inspect step jobs",
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.PersistentFlags().String("log-format", "console", "log format: json or console")
	root.PersistentFlags().String("os", "host", "OS family to build invocations for: host, unix or windows")
	root.AddCommand(newRunCmd())
	root.AddCommand(newPlanCmd())
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
