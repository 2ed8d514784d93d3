package reconcile

import "fmt"

const (
	hookErrorTemplateConstant        = "hook %s failed: %v"
	sentinelFileNameTemplateConstant = ".%s_merged"
	sentinelFileContentConstant      = "True"
)

// Remote names the reconciler registers and operates against.
const (
	UpstreamRemoteName   = "upstream"
	DownstreamRemoteName = "downstream"
)

// BranchPair maps an upstream source branch onto a downstream target branch.
type BranchPair struct {
	SourceBranch string
	TargetBranch string
	ForceOverlay bool
}

// Hook is a verification command executed between merge and commit.
type Hook struct {
	Name    string
	Command []string
}

// Step enumerates the reconciliation stages of a branch pair.
type Step string

// Reconciliation steps in execution order. StepFailed is absorbing.
const (
	StepFetch         Step = Step("fetch")
	StepCheckout      Step = Step("checkout")
	StepOverlayMerge  Step = Step("overlay_merge")
	StepUpstreamMerge Step = Step("upstream_merge")
	StepPush          Step = Step("push")
	StepDone          Step = Step("done")
	StepFailed        Step = Step("failed")
)

// StepOutcome classifies how a pair ended.
type StepOutcome string

// Pair outcomes.
const (
	OutcomeSuccess StepOutcome = StepOutcome("success")
	OutcomeNoOp    StepOutcome = StepOutcome("no_op")
	OutcomeFailed  StepOutcome = StepOutcome("failed")
)

// PairResult reports the terminal state of one branch pair reconciliation.
type PairResult struct {
	Pair         BranchPair
	Outcome      StepOutcome
	FailedStep   Step
	FailureCause error
}

// HookError reports a verification hook that exited unsuccessfully.
type HookError struct {
	HookName string
	Cause    error
}

// Error describes the failed hook.
func (hookError HookError) Error() string {
	return fmt.Sprintf(hookErrorTemplateConstant, hookError.HookName, hookError.Cause)
}

// Unwrap exposes the underlying execution failure.
func (hookError HookError) Unwrap() error {
	return hookError.Cause
}

// SentinelFileName renders the overlay sentinel file name for an overlay branch.
func SentinelFileName(overlayBranchName string) string {
	return fmt.Sprintf(sentinelFileNameTemplateConstant, overlayBranchName)
}
