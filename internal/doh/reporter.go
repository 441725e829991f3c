package doh

import "fmt"

// Name satisfies reporter.Reporter.
func (e *Engine) Name() string { return "DoH Engine" }

// Report returns a per-URL summary of query statistics. The failures breakdown follows the
// per-error-index counters: request-build/do/status/read/content-type/unpack.
func (e *Engine) Report(resetCounters bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := fmt.Sprintf("Totals: req=%d Concurrency=%d\n", e.queries, e.cct.Peak(resetCounters))
	for _, s := range e.servers {
		var al float64
		if s.success > 0 {
			al = s.totalLatency.Seconds() / float64(s.success)
		}
		errs := 0
		errList := ""
		for ix, v := range s.failures {
			if ix > 0 {
				errList += "/"
			}
			errList += fmt.Sprintf("%d", v)
			errs += v
		}
		out += fmt.Sprintf("Server: ok=%d al=%0.3f errs=%d (%s) %s\n",
			s.success, al, errs, errList, s.Name())
		if resetCounters {
			s.resetCounters()
		}
	}

	if resetCounters {
		e.queries = 0
	}

	return out
}
