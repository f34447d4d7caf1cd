package builder

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// OSFamily is the operating-system family an invocation is built for.
type OSFamily int

const (
	Unix OSFamily = iota
	Windows
)

var ErrUnknownOS = errors.New("unknown os family")

func (f OSFamily) String() string {
	if f == Windows {
		return "windows"
	}
	return "unix"
}

// Host reports the family of the running agent.
func Host() OSFamily {
	return familyOf(runtime.GOOS)
}

func familyOf(goos string) OSFamily {
	if goos == "windows" {
		return Windows
	}
	return Unix
}

// ParseOSFamily accepts a family name or a GOOS value.
func ParseOSFamily(s string) (OSFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows":
		return Windows, nil
	case "unix", "linux", "darwin", "freebsd", "openbsd", "netbsd", "solaris", "aix":
		return Unix, nil
	case "", "host":
		return Host(), nil
	}
	return Unix, fmt.Errorf("%w: %q", ErrUnknownOS, s)
}
