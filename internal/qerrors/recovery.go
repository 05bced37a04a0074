package qerrors

import "fmt"

// PanicError carries a recovered panic value and its stack trace. Call
// sites recover inline and build it themselves; recover only takes
// effect when called directly by the deferred function.
type PanicError struct {
	Value      interface{}
	Stacktrace string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}
