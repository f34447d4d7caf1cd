// Command stepctl runs step jobs locally and shows what they would execute.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/andrej220/stepagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stepctl:", err)
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
