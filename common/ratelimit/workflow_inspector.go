package ratelimit

import "github.com/noetl/noetl/internal/playbook"

// WorkflowTier represents the rate limit tier based on playbook complexity.
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // no loop steps
	TierStandard WorkflowTier = "standard" // 1-2 loop steps
	TierHeavy    WorkflowTier = "heavy"    // 3+ loop steps, each of which can fan out N enqueues
)

// WorkflowProfile contains analysis of a playbook's complexity, used to pick
// a rate-limit tier before admitting an execution_start event.
type WorkflowProfile struct {
	Tier       WorkflowTier
	LoopCount  int
	HasLoops   bool
	TotalSteps int
}

// InspectWorkflow analyzes a parsed playbook (internal/playbook, spec.md
// §4.E) and determines its complexity tier. Loop steps are weighted more
// heavily than plain action steps because a single loop step can enqueue an
// unbounded number of iteration jobs (spec.md §4.G), so tiering on raw step
// count alone would under-count the work a small playbook can generate.
func InspectWorkflow(pb *playbook.Playbook) WorkflowProfile {
	profile := WorkflowProfile{Tier: TierSimple}
	if pb == nil {
		return profile
	}

	profile.TotalSteps = len(pb.Workflow)
	for _, step := range pb.Workflow {
		if step.Loop != nil {
			profile.LoopCount++
			profile.HasLoops = true
		}
	}

	profile.Tier = determineTier(profile.LoopCount)
	return profile
}

func determineTier(loopCount int) WorkflowTier {
	switch {
	case loopCount == 0:
		return TierSimple
	case loopCount <= 2:
		return TierStandard
	default:
		return TierHeavy
	}
}

func (t WorkflowTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierStandard:
		return "standard"
	case TierHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}
