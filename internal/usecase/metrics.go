package usecase

type nopMetrics struct{}

func (nopMetrics) RecordUnit(string, string, float64) {}
func (nopMetrics) RecordRowsWritten(string, int)      {}
func (nopMetrics) RecordOutliers(int)                 {}
func (nopMetrics) RecordSkippedDate(string)           {}
func (nopMetrics) RecordRetry(string)                 {}
func (nopMetrics) RecordError(string)                 {}
