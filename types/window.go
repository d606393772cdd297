package types

// WindowReason classifies why the planner chose a window.
type WindowReason string

const (
	WindowNormal   WindowReason = "NORMAL"
	WindowCatchup  WindowReason = "CATCHUP"
	WindowBackfill WindowReason = "BACKFILL"
	WindowRecovery WindowReason = "RECOVERY"
)

// BlockWindow is an ephemeral plan for one fetch cycle. A window is
// only ever consumed once and from exactly lastSyncedBlock+1, the
// planner and the orchestrator both enforce that.
type BlockWindow struct {
	Chain          string       `json:"chain"`
	FromBlock      uint64       `json:"fromBlock"`
	ToBlock        uint64       `json:"toBlock"`
	WindowSize     uint64       `json:"windowSize"`
	Reason         WindowReason `json:"reason"`
	TargetHead     uint64       `json:"targetHead"`
	LagAfterWindow uint64       `json:"lagAfterWindow"`
}

// Span returns the number of blocks the window covers.
func (w *BlockWindow) Span() uint64 {
	if w.ToBlock < w.FromBlock {
		return 0
	}
	return w.ToBlock - w.FromBlock + 1
}
