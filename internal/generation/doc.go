// Package generation defines the generation job model and its per-job state
// machine.
//
// A Request is immutable once submitted. A Machine owns the mutable
// execution state of one job and advances it through
// pending → validating → preparing → executing → streaming → terminal in
// response to Events. Apply returns a Transition describing the state change
// and the side effect the caller must perform; the machine itself never calls
// providers or touches shared registries.
//
// Once a machine is terminal every further event is rejected with
// ErrTerminal, which is how late provider results are discarded after a
// local cancellation.
package generation
