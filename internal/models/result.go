package models

// ResultCode is the outcome of a task run, a task, or a whole job.
type ResultCode string

const (
	// ResultNone means no result has been reported yet.
	ResultNone ResultCode = ""

	// ResultOK means process and content were correct.
	ResultOK ResultCode = "ok"

	// ResultWarning means the process was correct but the content had problems.
	ResultWarning ResultCode = "warning"

	// ResultInspect means the run is waiting for postponed inspection.
	ResultInspect ResultCode = "inspect"

	// ResultError means the process had problems; content unknown.
	ResultError ResultCode = "error"

	// ResultCancelled means the run will never get a result.
	ResultCancelled ResultCode = "cancelled"
)

// severity orders results from best to worst:
// none < ok < warning < inspect < cancelled < error.
// A cancellation dominates any successful outcome, but never masks a real
// failure: a job with one errored task and one cancelled task is an error.
func (r ResultCode) severity() int {
	switch r {
	case ResultOK:
		return 1
	case ResultWarning:
		return 2
	case ResultInspect:
		return 3
	case ResultCancelled:
		return 4
	case ResultError:
		return 5
	default:
		return 0
	}
}

// IsValid reports whether r is a reportable result code.
func (r ResultCode) IsValid() bool {
	switch r {
	case ResultOK, ResultWarning, ResultInspect, ResultError, ResultCancelled:
		return true
	}
	return false
}

// ParseResult converts a reported result string to a ResultCode.
func ParseResult(s string) (ResultCode, bool) {
	r := ResultCode(s)
	if !r.IsValid() {
		return ResultNone, false
	}
	return r, true
}

// Terminal reports whether r is a final outcome.
func (r ResultCode) Terminal() bool {
	return r != ResultNone
}

// WorstResult returns the worse of two result codes.
func WorstResult(a, b ResultCode) ResultCode {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// CombineResults computes the worst-case result over a series of results,
// or ResultNone if none of them has a result.
func CombineResults(results ...ResultCode) ResultCode {
	combined := ResultNone
	for _, r := range results {
		combined = WorstResult(combined, r)
	}
	return combined
}
