package models

// Stats represents queue depth and file migration statistics
type Stats struct {
	PendingChanges    int64
	ProcessingChanges int64
	SyncedChanges     int64
	FailedChanges     int64
	SkippedChanges    int64
	LocalFiles        int64
	LocalSize         int64
	RemoteFiles       int64
	RemoteSize        int64
	FailedFiles       int64
}

// TotalChanges returns the total number of change records across all statuses.
func (s *Stats) TotalChanges() int64 {
	return s.PendingChanges + s.ProcessingChanges + s.SyncedChanges + s.FailedChanges + s.SkippedChanges
}
