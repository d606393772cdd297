package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arguslabs/argus/adapter"
	"github.com/arguslabs/argus/types"
)

// Mode is the global ingestion posture.
type Mode string

const (
	// ModeLimited keeps only the configured core chains active and
	// stretches loop sleeps fourfold.
	ModeLimited Mode = "LIMITED"
	// ModeStandard is the default posture.
	ModeStandard Mode = "STANDARD"
	// ModeFull halves sleeps and doubles burst budgets.
	ModeFull Mode = "FULL"
	// ModeBoost is FULL with an expiry, reverting to the prior mode.
	ModeBoost Mode = "BOOST"
)

// Boost duration bounds.
const (
	MinBoost = time.Minute
	MaxBoost = time.Hour
)

// Stage bits select which optional log families the window fetch
// includes. Transfers are unconditional.
type Stage uint32

const (
	StagePools Stage = 1 << iota
	StageSwaps
	StageLiquidity
)

// AllStages enables every optional family.
const AllStages = StagePools | StageSwaps | StageLiquidity

var stageNames = []struct {
	bit  Stage
	name string
}{
	{StagePools, "pools"},
	{StageSwaps, "swaps"},
	{StageLiquidity, "liquidity"},
}

// AllStageNames lists the optional log families in toggle order.
func AllStageNames() []string {
	out := make([]string, len(stageNames))
	for i, s := range stageNames {
		out[i] = s.name
	}
	return out
}

func parseStages(names []string) Stage {
	if len(names) == 0 {
		return AllStages
	}
	var set Stage
	for _, n := range names {
		for _, s := range stageNames {
			if strings.EqualFold(n, s.name) {
				set |= s.bit
			}
		}
	}
	return set
}

// Checkpoint is one chain's cursor row for the admin surface.
type Checkpoint struct {
	Chain           string           `json:"chain"`
	LastSyncedBlock uint64           `json:"lastSyncedBlock"`
	LastHeadBlock   uint64           `json:"lastHeadBlock"`
	Lag             uint64           `json:"lag"`
	TotalEvents     uint64           `json:"totalEvents"`
	Status          types.SyncStatus `json:"status"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// StatusReport is the full operator view.
type StatusReport struct {
	Mode           Mode                   `json:"mode"`
	BoostRemaining time.Duration          `json:"boostRemaining,omitempty"`
	Stages         []string               `json:"stages"`
	Chains         []types.ChainSyncState `json:"chains"`
	Providers      []types.ProviderStatus `json:"providers,omitempty"`
}

// Control is the behavior bundle the external admin plane consumes.
// *Service implements it.
type Control interface {
	Status() StatusReport
	Checkpoints() []Checkpoint
	SetMode(mode Mode) error
	Boost(d time.Duration) error
	SetStage(name string, enabled bool) error
	ApplyOverrides(windows map[string]uint64, sleep time.Duration)
	PauseAll(ctx context.Context, reason string) error
	ResumeAll(ctx context.Context) error
	PauseChain(ctx context.Context, chain, reason string) error
	ResumeChain(ctx context.Context, chain string) error
	ResetChain(ctx context.Context, chain string, newStart uint64) error
	SetProviderEnabled(ctx context.Context, network, providerID string, enabled bool) error
}

var _ Control = (*Service)(nil)

// Mode returns the effective mode, reverting an expired boost first.
func (s *Service) Mode() Mode {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.mode == ModeBoost && s.now().After(s.boostUntil) {
		s.log.Info("Boost expired", "revert", s.prevMode)
		s.mode = s.prevMode
		s.boostUntil = time.Time{}
	}
	return s.mode
}

// SetMode switches the posture. BOOST is entered through Boost, not
// here.
func (s *Service) SetMode(mode Mode) error {
	switch mode {
	case ModeLimited, ModeStandard, ModeFull:
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.mode == mode {
		return nil
	}
	s.log.Info("Ingestion mode changed", "from", s.mode, "to", mode)
	s.mode = mode
	s.boostUntil = time.Time{}
	return nil
}

// Boost runs FULL-equivalent ingestion for d, then reverts to the
// mode that was active when the boost began.
func (s *Service) Boost(d time.Duration) error {
	if d < MinBoost || d > MaxBoost {
		return fmt.Errorf("boost duration %v outside [%v, %v]", d, MinBoost, MaxBoost)
	}
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.mode != ModeBoost {
		s.prevMode = s.mode
	}
	s.mode = ModeBoost
	s.boostUntil = s.now().Add(d)
	s.log.Info("Boost engaged", "duration", d, "revertTo", s.prevMode)
	return nil
}

// SetStage toggles one optional log family. The change takes effect
// at each chain's next loop re-entry.
func (s *Service) SetStage(name string, enabled bool) error {
	var bit Stage
	for _, st := range stageNames {
		if strings.EqualFold(name, st.name) {
			bit = st.bit
		}
	}
	if bit == 0 {
		return fmt.Errorf("unknown stage %q", name)
	}
	for {
		old := s.stages.Load()
		next := old
		if enabled {
			next = old | uint32(bit)
		} else {
			next = old &^ uint32(bit)
		}
		if s.stages.CompareAndSwap(old, next) {
			if old != next {
				s.log.Info("Stage toggled", "stage", strings.ToLower(name), "enabled", enabled)
			}
			return nil
		}
	}
}

// ApplyOverrides installs runtime window and interval overrides.
// Workers pick them up at loop re-entry. A zero window entry removes
// that chain's override; a zero sleep restores the configured
// interval.
func (s *Service) ApplyOverrides(windows map[string]uint64, sleep time.Duration) {
	s.ovrMu.Lock()
	for chain, size := range windows {
		if size == 0 {
			delete(s.ovrWindows, chain)
			continue
		}
		s.ovrWindows[chain] = size
	}
	if sleep < 0 {
		sleep = 0
	}
	s.ovrSleep = sleep
	s.ovrMu.Unlock()
	s.log.Info("Overrides applied", "windows", len(windows), "sleep", sleep)
}

// StageNames lists the enabled optional families.
func (s *Service) StageNames() []string {
	cur := Stage(s.stages.Load())
	out := make([]string, 0, len(stageNames))
	for _, st := range stageNames {
		if cur&st.bit != 0 {
			out = append(out, st.name)
		}
	}
	return out
}

func (s *Service) topicFilter() adapter.TopicFilter {
	cur := Stage(s.stages.Load())
	return adapter.TopicFilter{
		Pools:     cur&StagePools != 0,
		Swaps:     cur&StageSwaps != 0,
		Liquidity: cur&StageLiquidity != 0,
	}
}

// Status assembles the operator view.
func (s *Service) Status() StatusReport {
	report := StatusReport{
		Mode:   s.Mode(),
		Stages: s.StageNames(),
		Chains: s.sync.All(),
	}
	s.modeMu.Lock()
	if s.mode == ModeBoost {
		if rem := s.boostUntil.Sub(s.now()); rem > 0 {
			report.BoostRemaining = rem
		}
	}
	s.modeMu.Unlock()
	if s.pool != nil {
		report.Providers = s.pool.Snapshot()
	}
	return report
}

// Checkpoints returns the per-chain cursor rows.
func (s *Service) Checkpoints() []Checkpoint {
	states := s.sync.All()
	out := make([]Checkpoint, 0, len(states))
	for i := range states {
		st := &states[i]
		out = append(out, Checkpoint{
			Chain:           st.Chain,
			LastSyncedBlock: st.LastSyncedBlock,
			LastHeadBlock:   st.LastHeadBlock,
			Lag:             st.Lag(),
			TotalEvents:     st.TotalEventsIngested,
			Status:          st.Status,
			UpdatedAt:       st.UpdatedAt,
		})
	}
	return out
}

// PauseAll pauses every active chain with the given reason.
func (s *Service) PauseAll(ctx context.Context, reason string) error {
	for _, chain := range s.cfg.Networks {
		if err := s.sync.Pause(ctx, chain, reason); err != nil {
			return err
		}
	}
	return nil
}

// ResumeAll resumes every active chain.
func (s *Service) ResumeAll(ctx context.Context) error {
	for _, chain := range s.cfg.Networks {
		if err := s.sync.Resume(ctx, chain); err != nil {
			return err
		}
	}
	return nil
}

// PauseChain pauses one chain.
func (s *Service) PauseChain(ctx context.Context, chain, reason string) error {
	return s.sync.Pause(ctx, chain, reason)
}

// ResumeChain resumes one chain, clearing its error streak.
func (s *Service) ResumeChain(ctx context.Context, chain string) error {
	return s.sync.Resume(ctx, chain)
}

// ResetChain moves a chain's cursor to newStart-1 and clears its
// error state. The operator path out of a gap park.
func (s *Service) ResetChain(ctx context.Context, chain string, newStart uint64) error {
	return s.sync.Reset(ctx, chain, newStart)
}

// SetProviderEnabled toggles one endpoint and flushes fresh status
// rows for the admin surface.
func (s *Service) SetProviderEnabled(ctx context.Context, network, providerID string, enabled bool) error {
	if s.pool == nil {
		return fmt.Errorf("no provider pool attached")
	}
	if err := s.pool.SetEnabled(network, providerID, enabled); err != nil {
		return err
	}
	s.FlushProviderStatus(ctx)
	return nil
}
