package middleware

import "time"

type noopMetrics struct{}

func (noopMetrics) RecordCheckIn()                           {}
func (noopMetrics) RecordCheckOut(string, int64)             {}
func (noopMetrics) RecordPartialFailure(string)              {}
func (noopMetrics) RecordHTTPStatus(int)                     {}
func (noopMetrics) RecordRequestLatency(time.Duration)       {}
func (noopMetrics) RecordEmployeesImported(string, int)      {}
func (noopMetrics) RecordDirectorySyncFailure()              {}
func (noopMetrics) RecordExportEmail(bool)                   {}
func (noopMetrics) RecordPinFailure()                        {}
func (noopMetrics) RecordIdleLockout()                       {}
func (noopMetrics) SetReconciliation(orphaned, dangling int) {}
