// Package sink defines the fan-out target type shared by Receiver and
// Propagator.
package sink

// Sink is a first-class consumer of a propagated item. It returns an
// error to let a Propagator log-and-skip a failing sink without
// interrupting delivery to the remaining sinks.
type Sink[T any] func(item T) error
