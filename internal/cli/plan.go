package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrej220/stepagent/pkg/builder"
	"github.com/andrej220/stepagent/pkg/jobdef"
)

type plannedStep struct {
	Index       int                 `json:"index"`
	Description string              `json:"description"`
	RunIf       string              `json:"run_if"`
	Invocation  builder.Invocation  `json:"invocation"`
	OnCancel    *builder.Invocation `json:"on_cancel,omitempty"`
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "plan <job.yaml>",
		Short:        "Print the invocations a job would run, without running them",
		Args:         cobra.ExactArgs(1),
		RunE:         runPlan,
		SilenceUsage: true,
	}
	cmd.Flags().Bool("json", false, "print the plan as JSON")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	family, err := osFlag(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	specs, err := loadSpecs(args[0])
	if err != nil {
		return err
	}
	steps := plan(specs, family)
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(steps)
	}
	printPlan(cmd.OutOrStdout(), steps)
	return nil
}

func plan(specs []builder.CommandSpec, family builder.OSFamily) []plannedStep {
	steps := make([]plannedStep, 0, len(specs))
	for i, s := range specs {
		p := plannedStep{
			Index:       i,
			Description: s.Description(),
			RunIf:       s.Condition().String(),
			Invocation:  builder.Build(s, family),
		}
		if c, ok := s.OnCancel(); ok {
			inv := builder.Build(c, family)
			p.OnCancel = &inv
		}
		steps = append(steps, p)
	}
	return steps
}

func printPlan(w io.Writer, steps []plannedStep) {
	for _, s := range steps {
		fmt.Fprintf(w, "%d. %s [run_if=%s]\n", s.Index+1, s.Description, s.RunIf)
		fmt.Fprintf(w, "   %s\n", s.Invocation)
		fmt.Fprintf(w, "   in %s\n", s.Invocation.Dir)
		if s.OnCancel != nil {
			fmt.Fprintf(w, "   on cancel: %s\n", s.OnCancel)
		}
	}
}

func osFlag(cmd *cobra.Command) (builder.OSFamily, error) {
	name, _ := cmd.Flags().GetString("os")
	family, err := builder.ParseOSFamily(name)
	if err != nil {
		return family, &ExitError{Message: err.Error(), Code: ExitValidationError}
	}
	return family, nil
}

func loadSpecs(path string) ([]builder.CommandSpec, error) {
	job, err := jobdef.Load(path)
	if err != nil {
		return nil, &ExitError{Message: err.Error(), Code: ExitValidationError}
	}
	specs, err := job.Specs()
	if err != nil {
		return nil, &ExitError{Message: fmt.Sprintf("%s: %v", path, err), Code: ExitValidationError}
	}
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, &ExitError{Message: fmt.Sprintf("step %d: %v", i, err), Code: ExitValidationError}
		}
	}
	return specs, nil
}

func describe(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no description)"
	}
	return s
}
