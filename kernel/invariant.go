package kernel

// InvariantError is the panic value raised by Violation. It wraps the Error
// describing which internal-consistency rule was broken and is never returned
// as an ordinary error value.
type InvariantError struct {
	Err *Error
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return "[" + e.Err.Module + "] invariant violation: " + e.Err.Message
}

var (
	// violationFn is invoked by Violation. The default implementation
	// unwinds the calling goroutine; SetViolationHandler replaces it (for
	// example with kfmt.Panic to halt the system).
	violationFn = raiseViolation
)

// Violation reports that a caller broke a contract that can never be
// legitimately broken (misaligned frame, double free, remapping a valid leaf
// and so on). Calls to Violation never return.
func Violation(err *Error) {
	violationFn(err)

	// Handlers are not expected to return; make sure the caller does not
	// continue with corrupted state if one does.
	raiseViolation(err)
}

// SetViolationHandler installs fn as the handler for invariant violations.
// Passing nil restores the default handler which panics with an
// *InvariantError.
func SetViolationHandler(fn func(*Error)) {
	if fn == nil {
		fn = raiseViolation
	}
	violationFn = fn
}

// CatchViolation runs fn and returns the Error passed to Violation while fn
// was running or nil if fn completed normally. Panics that are not invariant
// violations are propagated.
func CatchViolation(fn func()) (violation *Error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			violation = ie.Err
		}
	}()

	fn()
	return nil
}

func raiseViolation(err *Error) {
	panic(&InvariantError{Err: err})
}
