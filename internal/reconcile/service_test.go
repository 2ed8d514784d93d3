package reconcile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/upsync/internal/execshell"
	"github.com/temirov/upsync/internal/gitrepo"
	"github.com/temirov/upsync/internal/reconcile"
)

const (
	testSourceBranchConstant          = "main"
	testTargetBranchConstant          = "downstream-main"
	testOverlayBranchConstant         = "downstream-changes"
	testUpstreamReferenceConstant     = "upstream/main"
	testOverlayReferenceConstant      = "downstream/downstream-changes"
	testHookNameConstant              = "vendor"
	testOverlayCommitMessageConstant  = "Merged downstream/downstream-changes and added sentinel"
	testUpstreamCommitMessageConstant = "Merge remote-tracking branch 'upstream/main' into downstream-main"
)

type fakeGitRepository struct {
	recordedCalls []string
	targetExists  bool
	mergeStatuses map[string]gitrepo.MergeStatus
	mergeErrors   map[string]error
	commitStatus  gitrepo.MergeStatus
	commitError   error
	pushError     error
	restoreError  error
	abortError    error
}

func newFakeGitRepository() *fakeGitRepository {
	return &fakeGitRepository{
		mergeStatuses: map[string]gitrepo.MergeStatus{},
		mergeErrors:   map[string]error{},
		commitStatus:  gitrepo.MergeStatusCompleted,
	}
}

func (repository *fakeGitRepository) record(callParts ...string) {
	repository.recordedCalls = append(repository.recordedCalls, strings.Join(callParts, " "))
}

func (repository *fakeGitRepository) FetchAllRemotes(_ context.Context, _ string) error {
	repository.record("fetch")
	return nil
}

func (repository *fakeGitRepository) BranchExists(_ context.Context, _ string, branchName string) (bool, error) {
	repository.record("branch-exists", branchName)
	return repository.targetExists, nil
}

func (repository *fakeGitRepository) CheckoutBranch(_ context.Context, _ string, reference string) error {
	repository.record("checkout", reference)
	return nil
}

func (repository *fakeGitRepository) CreateBranchFrom(_ context.Context, _ string, branchName string, startReference string) error {
	repository.record("create-branch", branchName, startReference)
	return nil
}

func (repository *fakeGitRepository) Pull(_ context.Context, _ string, remoteName string, branchName string) error {
	repository.record("pull", remoteName, branchName)
	return nil
}

func (repository *fakeGitRepository) Merge(_ context.Context, _ string, options gitrepo.MergeOptions) (gitrepo.MergeResult, error) {
	repository.record("merge", options.Reference)
	if mergeError, scripted := repository.mergeErrors[options.Reference]; scripted {
		return gitrepo.MergeResult{}, mergeError
	}
	if mergeStatus, scripted := repository.mergeStatuses[options.Reference]; scripted {
		return gitrepo.MergeResult{Status: mergeStatus}, nil
	}
	return gitrepo.MergeResult{Status: gitrepo.MergeStatusCompleted}, nil
}

func (repository *fakeGitRepository) StageAll(_ context.Context, _ string) error {
	repository.record("stage")
	return nil
}

func (repository *fakeGitRepository) Commit(_ context.Context, _ string, commitMessage string) (gitrepo.MergeResult, error) {
	repository.record("commit", commitMessage)
	if repository.commitError != nil {
		return gitrepo.MergeResult{}, repository.commitError
	}
	return gitrepo.MergeResult{Status: repository.commitStatus}, nil
}

func (repository *fakeGitRepository) Push(_ context.Context, _ string, remoteName string, branchName string) error {
	repository.record("push", remoteName, branchName)
	return repository.pushError
}

func (repository *fakeGitRepository) RestoreFileFromRef(_ context.Context, _ string, reference string, filePath string) error {
	repository.record("restore", reference, filePath)
	return repository.restoreError
}

func (repository *fakeGitRepository) AbortMerge(_ context.Context, _ string) error {
	repository.record("merge-abort")
	return repository.abortError
}

func (repository *fakeGitRepository) ResetHard(_ context.Context, _ string) error {
	repository.record("reset-hard")
	return nil
}

func (repository *fakeGitRepository) RemoveUntrackedFiles(_ context.Context, _ string) error {
	repository.record("clean-untracked")
	return nil
}

func (repository *fakeGitRepository) callCount(callPrefix string) int {
	matchingCalls := 0
	for _, recordedCall := range repository.recordedCalls {
		if strings.HasPrefix(recordedCall, callPrefix) {
			matchingCalls++
		}
	}
	return matchingCalls
}

type fakeHookRunner struct {
	recordedPrograms []string
	hookError        error
}

func (runner *fakeHookRunner) ExecuteProgram(_ context.Context, programName string, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	runner.recordedPrograms = append(runner.recordedPrograms, strings.Join(append([]string{programName}, details.Arguments...), " "))
	if runner.hookError != nil {
		return execshell.ExecutionResult{ExitCode: 1}, runner.hookError
	}
	return execshell.ExecutionResult{}, nil
}

func newTestService(testInstance *testing.T, repository *fakeGitRepository, hookRunner *fakeHookRunner) *reconcile.Service {
	testInstance.Helper()

	reconcileService, creationError := reconcile.NewService(reconcile.ServiceDependencies{
		Repository: repository,
		HookRunner: hookRunner,
	})
	require.NoError(testInstance, creationError)
	return reconcileService
}

func testPair() reconcile.BranchPair {
	return reconcile.BranchPair{SourceBranch: testSourceBranchConstant, TargetBranch: testTargetBranchConstant}
}

func TestNewServiceValidatesDependencies(testInstance *testing.T) {
	testCases := []struct {
		name          string
		dependencies  reconcile.ServiceDependencies
		expectedError error
	}{
		{
			name:          "missing_repository",
			dependencies:  reconcile.ServiceDependencies{HookRunner: &fakeHookRunner{}},
			expectedError: reconcile.ErrRepositoryNotConfigured,
		},
		{
			name:          "missing_hook_runner",
			dependencies:  reconcile.ServiceDependencies{Repository: newFakeGitRepository()},
			expectedError: reconcile.ErrHookRunnerNotConfigured,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			_, creationError := reconcile.NewService(testCase.dependencies)
			require.ErrorIs(testInstance, creationError, testCase.expectedError)
		})
	}
}

func TestReconcilePairCleanMergeAndPush(testInstance *testing.T) {
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
		PushEnabled:    true,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, []string{
		"fetch",
		"branch-exists " + testTargetBranchConstant,
		"checkout " + testTargetBranchConstant,
		"pull downstream " + testTargetBranchConstant,
		"merge " + testUpstreamReferenceConstant,
		"stage",
		"commit " + testUpstreamCommitMessageConstant,
		"push downstream " + testTargetBranchConstant,
	}, fakeRepository.recordedCalls)
}

func TestReconcilePairSeedsNewBranchWithOverlay(testInstance *testing.T) {
	repositoryPath := testInstance.TempDir()
	fakeRepository := newFakeGitRepository()
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: repositoryPath,
		OverlayBranch:  testOverlayBranchConstant,
		PushEnabled:    true,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, []string{
		"fetch",
		"branch-exists " + testTargetBranchConstant,
		"create-branch " + testTargetBranchConstant + " " + testUpstreamReferenceConstant,
		"merge " + testOverlayReferenceConstant,
		"stage",
		"commit " + testOverlayCommitMessageConstant,
		"push downstream " + testTargetBranchConstant,
		"merge " + testUpstreamReferenceConstant,
		"restore " + testOverlayReferenceConstant + " .gitignore",
		"stage",
		"commit " + testUpstreamCommitMessageConstant,
		"push downstream " + testTargetBranchConstant,
	}, fakeRepository.recordedCalls)

	sentinelContent, readError := os.ReadFile(filepath.Join(repositoryPath, reconcile.SentinelFileName(testOverlayBranchConstant)))
	require.NoError(testInstance, readError)
	require.Equal(testInstance, "True", string(sentinelContent))
}

func TestReconcilePairSkipsOverlayWhenSentinelPresent(testInstance *testing.T) {
	repositoryPath := testInstance.TempDir()
	sentinelPath := filepath.Join(repositoryPath, reconcile.SentinelFileName(testOverlayBranchConstant))
	require.NoError(testInstance, os.WriteFile(sentinelPath, []byte("True"), 0o644))

	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: repositoryPath,
		OverlayBranch:  testOverlayBranchConstant,
		PushEnabled:    true,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, 0, fakeRepository.callCount("merge "+testOverlayReferenceConstant))
	require.Equal(testInstance, 1, fakeRepository.callCount("merge "+testUpstreamReferenceConstant))
}

func TestReconcilePairForceOverlayBypassesSentinel(testInstance *testing.T) {
	repositoryPath := testInstance.TempDir()
	sentinelPath := filepath.Join(repositoryPath, reconcile.SentinelFileName(testOverlayBranchConstant))
	require.NoError(testInstance, os.WriteFile(sentinelPath, []byte("True"), 0o644))

	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	forcedPair := testPair()
	forcedPair.ForceOverlay = true
	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: repositoryPath,
		OverlayBranch:  testOverlayBranchConstant,
		PushEnabled:    true,
	}, forcedPair)

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, 1, fakeRepository.callCount("merge "+testOverlayReferenceConstant))
}

func TestReconcilePairReportsNoOpWhenUpstreamMergeHasNoChanges(testInstance *testing.T) {
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	fakeRepository.mergeStatuses[testUpstreamReferenceConstant] = gitrepo.MergeStatusNoChanges
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
		PushEnabled:    true,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeNoOp, pairResult.Outcome)
	require.Equal(testInstance, 0, fakeRepository.callCount("commit"))
	require.Equal(testInstance, 0, fakeRepository.callCount("push"))
}

func TestReconcilePairReportsNoOpWhenCommitIsEmpty(testInstance *testing.T) {
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	fakeRepository.commitStatus = gitrepo.MergeStatusNoChanges
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
		PushEnabled:    true,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeNoOp, pairResult.Outcome)
	require.Equal(testInstance, 0, fakeRepository.callCount("push"))
}

func TestReconcilePairMergeConflictFailsAtUpstreamMerge(testInstance *testing.T) {
	mergeConflictError := errors.New("merge conflict")
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	fakeRepository.mergeErrors[testUpstreamReferenceConstant] = mergeConflictError
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
		PushEnabled:    true,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeFailed, pairResult.Outcome)
	require.Equal(testInstance, reconcile.StepUpstreamMerge, pairResult.FailedStep)
	require.ErrorIs(testInstance, pairResult.FailureCause, mergeConflictError)
	require.Equal(testInstance, 0, fakeRepository.callCount("push"))
}

func TestReconcilePairSkipsPushWhenDisabled(testInstance *testing.T) {
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, 0, fakeRepository.callCount("push"))
	require.Equal(testInstance, 1, fakeRepository.callCount("commit"))
}

func TestReconcilePairHookFailureAbortsPair(testInstance *testing.T) {
	hookExecutionError := errors.New("vendoring drifted")
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	failingHookRunner := &fakeHookRunner{hookError: hookExecutionError}
	reconcileService := newTestService(testInstance, fakeRepository, failingHookRunner)

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
		PushEnabled:    true,
		Hooks:          []reconcile.Hook{{Name: testHookNameConstant, Command: []string{"go", "mod", "vendor"}}},
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeFailed, pairResult.Outcome)
	require.Equal(testInstance, reconcile.StepUpstreamMerge, pairResult.FailedStep)

	var hookFailure reconcile.HookError
	require.ErrorAs(testInstance, pairResult.FailureCause, &hookFailure)
	require.Equal(testInstance, testHookNameConstant, hookFailure.HookName)
	require.ErrorIs(testInstance, pairResult.FailureCause, hookExecutionError)
	require.Equal(testInstance, []string{"go mod vendor"}, failingHookRunner.recordedPrograms)
	require.Equal(testInstance, 0, fakeRepository.callCount("commit"))
}

func TestReconcilePairRunsHooksInDeclaredOrder(testInstance *testing.T) {
	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	recordingHookRunner := &fakeHookRunner{}
	reconcileService := newTestService(testInstance, fakeRepository, recordingHookRunner)

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: testInstance.TempDir(),
		Hooks: []reconcile.Hook{
			{Name: "vendor", Command: []string{"go", "mod", "vendor"}},
			{Name: "unit-tests", Command: []string{"go", "test", "./..."}},
		},
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, []string{"go mod vendor", "go test ./..."}, recordingHookRunner.recordedPrograms)
}

func TestReconcilePairGitignoreRestoreFailureIsBenign(testInstance *testing.T) {
	repositoryPath := testInstance.TempDir()
	sentinelPath := filepath.Join(repositoryPath, reconcile.SentinelFileName(testOverlayBranchConstant))
	require.NoError(testInstance, os.WriteFile(sentinelPath, []byte("True"), 0o644))

	fakeRepository := newFakeGitRepository()
	fakeRepository.targetExists = true
	fakeRepository.restoreError = errors.New("pathspec .gitignore did not match")
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	pairResult := reconcileService.ReconcilePair(context.Background(), reconcile.RunOptions{
		RepositoryPath: repositoryPath,
		OverlayBranch:  testOverlayBranchConstant,
	}, testPair())

	require.Equal(testInstance, reconcile.OutcomeSuccess, pairResult.Outcome)
	require.Equal(testInstance, 1, fakeRepository.callCount("commit "+testUpstreamCommitMessageConstant))
}

func TestCleanupAttemptsEveryStep(testInstance *testing.T) {
	fakeRepository := newFakeGitRepository()
	fakeRepository.abortError = errors.New("no merge in progress")
	reconcileService := newTestService(testInstance, fakeRepository, &fakeHookRunner{})

	reconcileService.Cleanup(context.Background(), testInstance.TempDir())

	require.Equal(testInstance, []string{"merge-abort", "reset-hard", "clean-untracked"}, fakeRepository.recordedCalls)
}
