package delta

import "fmt"

// SyncError reports a permission evaluation that failed for one session.
// The session does not receive the rows involved.
type SyncError struct {
	SessionID string
	Table     string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("session %s, table %s: %v", e.SessionID, e.Table, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
