package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/temirov/upsync/internal/execshell"
	"github.com/temirov/upsync/internal/gitrepo"
)

const (
	repositoryNotConfiguredMessageConstant = "repository manager not configured"
	hookRunnerNotConfiguredMessageConstant = "hook runner not configured"
	hookCommandEmptyMessageConstant        = "hook command is empty"
	overlayMergeStrategyConstant           = "recursive"
	overlayMergeStrategyOptionConstant     = "theirs"
	overlayCommitMessageTemplateConstant   = "Merged downstream/%s and added sentinel"
	upstreamCommitMessageTemplateConstant  = "Merge remote-tracking branch 'upstream/%s' into %s"
	remoteReferenceSeparatorConstant       = "/"
	gitignoreFileNameConstant              = ".gitignore"
	sentinelFilePermissionsConstant        = 0o644
	reconcilingPairMessageConstant         = "Reconciling branch pair"
	pullSkippedMessageConstant             = "Pull from downstream failed, continuing with local branch"
	overlaySkippedMessageConstant          = "Overlay already merged, sentinel present"
	overlayForcedMessageConstant           = "Overlay merge forced, bypassing sentinel"
	gitignoreRestoreSkippedMessageConstant = "Could not restore .gitignore from overlay branch, continuing"
	upstreamUpToDateMessageConstant        = "Target branch already contains upstream changes"
	hookSucceededMessageConstant           = "Verification hook succeeded"
	cleanupStepFailedMessageConstant       = "Cleanup step failed, continuing"
	logFieldSourceBranchConstant           = "source_branch"
	logFieldTargetBranchConstant           = "target_branch"
	logFieldOverlayBranchConstant          = "overlay_branch"
	logFieldHookNameConstant               = "hook_name"
	logFieldCleanupStepConstant            = "cleanup_step"
	cleanupStepAbortMergeConstant          = "merge_abort"
	cleanupStepResetHardConstant           = "reset_hard"
	cleanupStepCleanConstant               = "clean_untracked"
)

// GitRepository is the slice of gitrepo.RepositoryManager the reconciler uses.
type GitRepository interface {
	FetchAllRemotes(executionContext context.Context, repositoryPath string) error
	BranchExists(executionContext context.Context, repositoryPath string, branchName string) (bool, error)
	CheckoutBranch(executionContext context.Context, repositoryPath string, reference string) error
	CreateBranchFrom(executionContext context.Context, repositoryPath string, branchName string, startReference string) error
	Pull(executionContext context.Context, repositoryPath string, remoteName string, branchName string) error
	Merge(executionContext context.Context, repositoryPath string, options gitrepo.MergeOptions) (gitrepo.MergeResult, error)
	StageAll(executionContext context.Context, repositoryPath string) error
	Commit(executionContext context.Context, repositoryPath string, commitMessage string) (gitrepo.MergeResult, error)
	Push(executionContext context.Context, repositoryPath string, remoteName string, branchName string) error
	RestoreFileFromRef(executionContext context.Context, repositoryPath string, reference string, filePath string) error
	AbortMerge(executionContext context.Context, repositoryPath string) error
	ResetHard(executionContext context.Context, repositoryPath string) error
	RemoveUntrackedFiles(executionContext context.Context, repositoryPath string) error
}

// HookRunner executes verification hook programs.
type HookRunner interface {
	ExecuteProgram(executionContext context.Context, programName string, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Dependency validation errors.
var (
	ErrRepositoryNotConfigured = errors.New(repositoryNotConfiguredMessageConstant)
	ErrHookRunnerNotConfigured = errors.New(hookRunnerNotConfiguredMessageConstant)
)

// ServiceDependencies carries the collaborators required by the Service.
type ServiceDependencies struct {
	Logger     *zap.Logger
	Repository GitRepository
	HookRunner HookRunner
}

// RunOptions holds the per-run settings shared by every branch pair.
type RunOptions struct {
	RepositoryPath string
	OverlayBranch  string
	ForceOverlay   bool
	PushEnabled    bool
	Hooks          []Hook
}

// Service reconciles branch pairs against the local work tree.
type Service struct {
	logger     *zap.Logger
	repository GitRepository
	hookRunner HookRunner
}

// NewService validates the dependencies and constructs a Service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Repository == nil {
		return nil, ErrRepositoryNotConfigured
	}
	if dependencies.HookRunner == nil {
		return nil, ErrHookRunnerNotConfigured
	}
	serviceLogger := dependencies.Logger
	if serviceLogger == nil {
		serviceLogger = zap.NewNop()
	}
	return &Service{logger: serviceLogger, repository: dependencies.Repository, hookRunner: dependencies.HookRunner}, nil
}

// ReconcilePair drives one branch pair through the reconciliation steps and
// reports its terminal state. Failures never panic and never leak between
// pairs.
func (service *Service) ReconcilePair(executionContext context.Context, options RunOptions, pair BranchPair) PairResult {
	service.logger.Info(
		reconcilingPairMessageConstant,
		zap.String(logFieldSourceBranchConstant, pair.SourceBranch),
		zap.String(logFieldTargetBranchConstant, pair.TargetBranch),
	)

	if fetchError := service.repository.FetchAllRemotes(executionContext, options.RepositoryPath); fetchError != nil {
		return failedResult(pair, StepFetch, fetchError)
	}

	if checkoutError := service.prepareTargetBranch(executionContext, options, pair); checkoutError != nil {
		return failedResult(pair, StepCheckout, checkoutError)
	}

	if len(options.OverlayBranch) > 0 {
		if overlayError := service.mergeOverlay(executionContext, options, pair); overlayError != nil {
			return failedResult(pair, StepOverlayMerge, overlayError)
		}
	}

	upstreamStatus, upstreamError := service.mergeUpstream(executionContext, options, pair)
	if upstreamError != nil {
		return failedResult(pair, StepUpstreamMerge, upstreamError)
	}
	if upstreamStatus == gitrepo.MergeStatusNoChanges {
		return PairResult{Pair: pair, Outcome: OutcomeNoOp}
	}

	if options.PushEnabled {
		if pushError := service.repository.Push(executionContext, options.RepositoryPath, DownstreamRemoteName, pair.TargetBranch); pushError != nil {
			return failedResult(pair, StepPush, pushError)
		}
	}

	return PairResult{Pair: pair, Outcome: OutcomeSuccess}
}

// Cleanup restores the work tree to a mergeable state after a failed pair.
// Every step is attempted regardless of earlier step failures.
func (service *Service) Cleanup(executionContext context.Context, repositoryPath string) {
	cleanupSteps := []struct {
		name    string
		execute func(context.Context, string) error
	}{
		{name: cleanupStepAbortMergeConstant, execute: service.repository.AbortMerge},
		{name: cleanupStepResetHardConstant, execute: service.repository.ResetHard},
		{name: cleanupStepCleanConstant, execute: service.repository.RemoveUntrackedFiles},
	}

	for _, cleanupStep := range cleanupSteps {
		if stepError := cleanupStep.execute(executionContext, repositoryPath); stepError != nil {
			service.logger.Warn(
				cleanupStepFailedMessageConstant,
				zap.String(logFieldCleanupStepConstant, cleanupStep.name),
				zap.Error(stepError),
			)
		}
	}
}

func (service *Service) prepareTargetBranch(executionContext context.Context, options RunOptions, pair BranchPair) error {
	targetExists, existenceError := service.repository.BranchExists(executionContext, options.RepositoryPath, pair.TargetBranch)
	if existenceError != nil {
		return existenceError
	}

	if targetExists {
		if checkoutError := service.repository.CheckoutBranch(executionContext, options.RepositoryPath, pair.TargetBranch); checkoutError != nil {
			return checkoutError
		}
		if pullError := service.repository.Pull(executionContext, options.RepositoryPath, DownstreamRemoteName, pair.TargetBranch); pullError != nil {
			service.logger.Warn(
				pullSkippedMessageConstant,
				zap.String(logFieldTargetBranchConstant, pair.TargetBranch),
				zap.Error(pullError),
			)
		}
		return nil
	}

	upstreamReference := UpstreamRemoteName + remoteReferenceSeparatorConstant + pair.SourceBranch
	return service.repository.CreateBranchFrom(executionContext, options.RepositoryPath, pair.TargetBranch, upstreamReference)
}

func (service *Service) mergeOverlay(executionContext context.Context, options RunOptions, pair BranchPair) error {
	overlayForced := options.ForceOverlay || pair.ForceOverlay
	sentinelPath := filepath.Join(options.RepositoryPath, SentinelFileName(options.OverlayBranch))

	if !overlayForced {
		if _, statError := os.Stat(sentinelPath); statError == nil {
			service.logger.Info(
				overlaySkippedMessageConstant,
				zap.String(logFieldOverlayBranchConstant, options.OverlayBranch),
				zap.String(logFieldTargetBranchConstant, pair.TargetBranch),
			)
			return nil
		}
	} else {
		service.logger.Info(
			overlayForcedMessageConstant,
			zap.String(logFieldOverlayBranchConstant, options.OverlayBranch),
			zap.String(logFieldTargetBranchConstant, pair.TargetBranch),
		)
	}

	overlayReference := DownstreamRemoteName + remoteReferenceSeparatorConstant + options.OverlayBranch
	_, mergeError := service.repository.Merge(executionContext, options.RepositoryPath, gitrepo.MergeOptions{
		Reference:             overlayReference,
		Squash:                true,
		AllowUnrelatedHistory: true,
		Strategy:              overlayMergeStrategyConstant,
		StrategyOption:        overlayMergeStrategyOptionConstant,
	})
	if mergeError != nil {
		return mergeError
	}

	if writeError := os.WriteFile(sentinelPath, []byte(sentinelFileContentConstant), sentinelFilePermissionsConstant); writeError != nil {
		return writeError
	}

	if stageError := service.repository.StageAll(executionContext, options.RepositoryPath); stageError != nil {
		return stageError
	}

	overlayCommitMessage := formatOverlayCommitMessage(options.OverlayBranch)
	commitResult, commitError := service.repository.Commit(executionContext, options.RepositoryPath, overlayCommitMessage)
	if commitError != nil {
		return commitError
	}

	if commitResult.Status == gitrepo.MergeStatusCompleted && options.PushEnabled {
		return service.repository.Push(executionContext, options.RepositoryPath, DownstreamRemoteName, pair.TargetBranch)
	}
	return nil
}

func (service *Service) mergeUpstream(executionContext context.Context, options RunOptions, pair BranchPair) (gitrepo.MergeStatus, error) {
	upstreamReference := UpstreamRemoteName + remoteReferenceSeparatorConstant + pair.SourceBranch
	mergeResult, mergeError := service.repository.Merge(executionContext, options.RepositoryPath, gitrepo.MergeOptions{
		Reference:              upstreamReference,
		WithoutAutomaticCommit: true,
	})
	if mergeError != nil {
		return "", mergeError
	}
	if mergeResult.Status == gitrepo.MergeStatusNoChanges {
		service.logger.Info(
			upstreamUpToDateMessageConstant,
			zap.String(logFieldSourceBranchConstant, pair.SourceBranch),
			zap.String(logFieldTargetBranchConstant, pair.TargetBranch),
		)
		return gitrepo.MergeStatusNoChanges, nil
	}

	if hookError := service.runHooks(executionContext, options); hookError != nil {
		return "", hookError
	}

	if len(options.OverlayBranch) > 0 {
		overlayReference := DownstreamRemoteName + remoteReferenceSeparatorConstant + options.OverlayBranch
		if restoreError := service.repository.RestoreFileFromRef(executionContext, options.RepositoryPath, overlayReference, gitignoreFileNameConstant); restoreError != nil {
			service.logger.Warn(
				gitignoreRestoreSkippedMessageConstant,
				zap.String(logFieldOverlayBranchConstant, options.OverlayBranch),
				zap.Error(restoreError),
			)
		}
	}

	if stageError := service.repository.StageAll(executionContext, options.RepositoryPath); stageError != nil {
		return "", stageError
	}

	upstreamCommitMessage := formatUpstreamCommitMessage(pair.SourceBranch, pair.TargetBranch)
	commitResult, commitError := service.repository.Commit(executionContext, options.RepositoryPath, upstreamCommitMessage)
	if commitError != nil {
		return "", commitError
	}
	return commitResult.Status, nil
}

func (service *Service) runHooks(executionContext context.Context, options RunOptions) error {
	for _, verificationHook := range options.Hooks {
		if len(verificationHook.Command) == 0 {
			return HookError{HookName: verificationHook.Name, Cause: errors.New(hookCommandEmptyMessageConstant)}
		}

		_, hookError := service.hookRunner.ExecuteProgram(executionContext, verificationHook.Command[0], execshell.CommandDetails{
			Arguments:        verificationHook.Command[1:],
			WorkingDirectory: options.RepositoryPath,
		})
		if hookError != nil {
			return HookError{HookName: verificationHook.Name, Cause: hookError}
		}
		service.logger.Debug(hookSucceededMessageConstant, zap.String(logFieldHookNameConstant, verificationHook.Name))
	}
	return nil
}

func formatOverlayCommitMessage(overlayBranchName string) string {
	return fmt.Sprintf(overlayCommitMessageTemplateConstant, overlayBranchName)
}

func formatUpstreamCommitMessage(sourceBranchName string, targetBranchName string) string {
	return fmt.Sprintf(upstreamCommitMessageTemplateConstant, sourceBranchName, targetBranchName)
}

func failedResult(pair BranchPair, failedStep Step, failureCause error) PairResult {
	return PairResult{Pair: pair, Outcome: OutcomeFailed, FailedStep: failedStep, FailureCause: failureCause}
}
