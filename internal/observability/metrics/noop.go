package metrics

// Noop discards every measurement. It is used when metrics are disabled and
// in tests that do not assert on metrics.
type Noop struct{}

func (Noop) RecordSuccess(string)           {}
func (Noop) RecordError(string, string)     {}
func (Noop) RecordDuration(string, float64) {}
func (Noop) RecordFileSize(string, int64)   {}
func (Noop) StartOperation(string)          {}
func (Noop) EndOperation(string)            {}
