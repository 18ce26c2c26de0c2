package raft

// Logger defines the logging interface the core calls for
// non-authoritative diagnostic output. The core never makes a control
// decision based on a Logger call; it only reports.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warningf(format string, v ...interface{})
	Errorf(format string, v ...interface{})

	// Panicf is called for programmer-error conditions: invariants
	// broken in a way that indicates a bug in the caller, not a
	// protocol event. Implementations may choose to panic (debug
	// builds) or merely log at error level and return (release builds).
	Panicf(format string, v ...interface{})
}

// noopLogger discards everything. Used as the default so the core never
// needs a nil check before logging.
type noopLogger struct{}

func (noopLogger) Debugf(format string, v ...interface{})   {}
func (noopLogger) Infof(format string, v ...interface{})    {}
func (noopLogger) Warningf(format string, v ...interface{}) {}
func (noopLogger) Errorf(format string, v ...interface{})   {}
func (noopLogger) Panicf(format string, v ...interface{})   {}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return noopLogger{} }
