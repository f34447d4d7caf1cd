// Package instruction carries cancellation requests from the coordinating
// server to the agent.
package instruction

// Instruction is a request to cancel the running job. A forced cancel is a
// stronger cancel: ForceCancel implies Cancel for every value this package
// produces.
type Instruction struct {
	cancel      bool
	forceCancel bool
}

// New builds an instruction; force implies cancel.
func New(cancel, force bool) Instruction {
	return Instruction{cancel: cancel || force, forceCancel: force}
}

// None is the instruction that requests nothing.
func None() Instruction { return Instruction{} }

// Cancel requests a cooperative cancel: cleanup commands still run.
func Cancel() Instruction { return New(true, false) }

// ForceCancel requests immediate termination without cleanup.
func ForceCancel() Instruction { return New(true, true) }

func (i Instruction) ShouldCancel() bool { return i.cancel }

func (i Instruction) ShouldForceCancel() bool { return i.forceCancel }

// Equal compares both flags. A cancel and a forced cancel are different
// requests and must not collapse into one when deduplicated.
func (i Instruction) Equal(o Instruction) bool {
	return i == o
}

// Stronger reports whether i asks for more than o.
func (i Instruction) Stronger(o Instruction) bool {
	return i.level() > o.level()
}

func (i Instruction) level() int {
	switch {
	case i.forceCancel:
		return 2
	case i.cancel:
		return 1
	}
	return 0
}

func (i Instruction) String() string {
	switch i.level() {
	case 2:
		return "force-cancel"
	case 1:
		return "cancel"
	}
	return "none"
}
