package evlog

// MultiLogger fans a single Event out to several sinks, e.g. a
// FileLogger for the persisted log filesystem plus a SlogAdapter for
// console output during development.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger returns a Logger that forwards every Event to all
// sinks, in order. Nil sinks are skipped.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	filtered := make([]Logger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiLogger{sinks: filtered}
}

func (m *MultiLogger) Log(e Event) {
	for _, s := range m.sinks {
		s.Log(e)
	}
}

var _ Logger = (*MultiLogger)(nil)
