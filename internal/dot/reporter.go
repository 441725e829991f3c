package dot

import "fmt"

// Name satisfies reporter.Reporter.
func (e *Engine) Name() string { return "DoT Engine" }

// Report returns a per-endpoint summary of dial and query statistics.
func (e *Engine) Report(resetCounters bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := ""
	for _, s := range e.servers {
		out += fmt.Sprintf("Server: dials=%d dialErrs=%d queries=%d errs=%d %s\n",
			s.dials, s.dialFailures, s.queries, s.failures, s.Name())
		if resetCounters {
			s.resetCounters()
		}
	}
	return out
}
