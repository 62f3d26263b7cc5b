package domain

// SyncStatus governs whether incoming diffs are buffered or applied.
type SyncStatus int32

const (
	Unsynced SyncStatus = iota
	Syncing
	Synced
)

func (s SyncStatus) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// ResyncReason labels why the book was sent back to Unsynced.
type ResyncReason string

const (
	ResyncReason_Start          ResyncReason = "start"
	ResyncReason_Gap            ResyncReason = "gap"
	ResyncReason_Timeout        ResyncReason = "timeout"
	ResyncReason_Overflow       ResyncReason = "overflow"
	ResyncReason_SnapshotError  ResyncReason = "snapshot_error"
	ResyncReason_SnapshotLagged ResyncReason = "snapshot_lagged"
	ResyncReason_EmptySnapshot  ResyncReason = "empty_snapshot"
)
