package builder

import "strings"

// WindowsInterpreter is the command interpreter Windows invocations go through.
const WindowsInterpreter = "cmd"

// Invocation is a fully resolved command, ready to hand to an engine.
type Invocation struct {
	Executable string   `json:"executable"`
	Argv       []string `json:"argv"`
	Dir        string   `json:"dir"`
}

func (i Invocation) String() string {
	if len(i.Argv) == 0 {
		return i.Executable
	}
	return i.Executable + " " + strings.Join(i.Argv, " ")
}

// Build translates cmd into an invocation for the given OS family.
//
// On Windows the program is run through the command interpreter, so script
// associations and PATHEXT lookup behave as in a console: "cmd /c program args...".
// Elsewhere the program is executed directly with its arguments.
// The working directory is passed through unchecked.
func Build(cmd Command, os OSFamily) Invocation {
	args := cmd.Args()
	if os == Windows {
		argv := make([]string, 0, len(args)+2)
		argv = append(argv, "/c", TranslatePath(cmd.Program(), os))
		argv = append(argv, args...)
		return Invocation{Executable: WindowsInterpreter, Argv: argv, Dir: cmd.WorkingDir()}
	}
	if args == nil {
		args = []string{}
	}
	return Invocation{Executable: cmd.Program(), Argv: args, Dir: cmd.WorkingDir()}
}
