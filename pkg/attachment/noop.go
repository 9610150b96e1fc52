package attachment

import "time"

// NoopObserver is a no-operation implementation of Observer
type NoopObserver struct{}

// NewNoopObserver creates a new no-operation observer
func NewNoopObserver() Observer {
	return NoopObserver{}
}

// RecordUpdate does nothing
func (NoopObserver) RecordUpdate(time.Duration, error) {}

// RecordTask does nothing
func (NoopObserver) RecordTask(string, int64, error) {}

// RecordSchedule does nothing
func (NoopObserver) RecordSchedule(string, error) {}
