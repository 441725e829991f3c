package do53

import "fmt"

// Name satisfies reporter.Reporter.
func (e *Engine) Name() string { return "Do53 Engine" }

// Report returns a multi-line summary of query/server statistics: a Totals line followed by one
// Server line per candidate endpoint.
func (e *Engine) Report(resetCounters bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := fmt.Sprintf("Totals: req=%d ok=%d errs=%d\n", e.queries, e.successes, e.failures)
	for _, s := range e.servers {
		out += fmt.Sprintf("Server: attempts=%d truncated=%d tcpFallback=%d errs=%d %s\n",
			s.attempts, s.udpTruncated, s.tcpFallbacks, s.failures, s.Name())
		if resetCounters {
			s.resetCounters()
		}
	}

	if resetCounters {
		e.queries, e.successes, e.failures = 0, 0, 0
	}

	return out
}
