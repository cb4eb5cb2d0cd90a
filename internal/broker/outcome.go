package broker

// OutcomeKind enumerates the terminal results a single Evaluate call can
// reach (spec.md §4.F). The evaluator never throws to its caller — every
// branch of the algorithm resolves to one of these, or an error from a
// failed store operation.
type OutcomeKind string

const (
	// OutcomeStopped: an event with normalized status "failed" exists;
	// scheduling halts entirely (spec.md §4.F step 2).
	OutcomeStopped OutcomeKind = "stopped_on_failure"
	// OutcomeFinished: the positional/transition cursor ran past the end
	// of the workflow; the execution has no more work.
	OutcomeFinished OutcomeKind = "finished"
	// OutcomeSkipped: one or more steps were skipped (pass/when) and no
	// actionable step followed.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeControlStep: a start/end/typeless step completed as a no-op.
	OutcomeControlStep OutcomeKind = "control_step"
	// OutcomeEnqueued: a normal action step was enqueued.
	OutcomeEnqueued OutcomeKind = "enqueued"
	// OutcomeLoopExpanded: a loop step's iterations were (re-)expanded
	// and any not-yet-active ones enqueued.
	OutcomeLoopExpanded OutcomeKind = "loop_expanded"
	// OutcomeLoopWaiting: a loop's iterations are still in flight; no
	// aggregation possible yet.
	OutcomeLoopWaiting OutcomeKind = "loop_waiting"
	// OutcomeLoopAggregated: an end_loop step's aggregate was computed
	// and emitted.
	OutcomeLoopAggregated OutcomeKind = "loop_aggregated"
	// OutcomeNoOp: the chosen step was already enqueued or completed;
	// the dedup guard made this call a no-op (spec.md §4.F step 6, §8).
	OutcomeNoOp OutcomeKind = "no_op"
)

// Outcome is evaluate's return value: what happened, and to which step.
type Outcome struct {
	Kind         OutcomeKind
	StepName     string
	QueueID      int64
	SkippedSteps []string
	Detail       string
}
