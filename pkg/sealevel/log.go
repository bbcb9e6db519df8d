package sealevel

import "fmt"

type Logger interface {
	Log(s string)
}

// LogRecorder collects program log lines for a single transaction.
type LogRecorder struct {
	Logs []string
}

func (r *LogRecorder) Log(s string) {
	r.Logs = append(r.Logs, s)
}

func (execCtx *ExecutionCtx) logf(format string, args ...any) {
	if execCtx.Log == nil {
		return
	}
	execCtx.Log.Log("Program log: " + fmt.Sprintf(format, args...))
}
