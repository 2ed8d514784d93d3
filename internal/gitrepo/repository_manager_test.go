package gitrepo_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/upsync/internal/execshell"
	"github.com/temirov/upsync/internal/gitrepo"
)

const (
	testRepositoryPathConstant            = "/tmp/fork"
	testRemoteNameConstant                = "upstream"
	testRemoteURLConstant                 = "https://github.com/acme/source.git"
	testNothingToCommitOutputConstant     = "On branch main\nnothing to commit, working tree clean\n"
	testMergeConflictOutputConstant       = "CONFLICT (content): Merge conflict in main.go\n"
	testOverlayMergeCaseNameConstant      = "overlay_squash_merge"
	testUpstreamMergeCaseNameConstant     = "upstream_no_commit_merge"
	testMergeNoChangesCaseNameConstant    = "merge_nothing_to_commit"
	testMergeConflictCaseNameConstant     = "merge_conflict_propagates"
	testRemoteAlreadyExistsOutputConstant = "error: remote upstream already exists.\n"
)

type scriptedGitExecutor struct {
	recordedCommands [][]string
	responses        map[string]scriptedResponse
}

type scriptedResponse struct {
	result execshell.ExecutionResult
	err    error
}

func newScriptedGitExecutor() *scriptedGitExecutor {
	return &scriptedGitExecutor{responses: map[string]scriptedResponse{}}
}

func (executor *scriptedGitExecutor) scriptResponse(subcommand string, response scriptedResponse) {
	executor.responses[subcommand] = response
}

func (executor *scriptedGitExecutor) ExecuteGit(_ context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	executor.recordedCommands = append(executor.recordedCommands, details.Arguments)
	if len(details.Arguments) > 0 {
		if response, scripted := executor.responses[details.Arguments[0]]; scripted {
			return response.result, response.err
		}
	}
	return execshell.ExecutionResult{}, nil
}

func (executor *scriptedGitExecutor) ExecuteListing(_ context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	executor.recordedCommands = append(executor.recordedCommands, details.Arguments)
	return execshell.ExecutionResult{StandardOutput: "total 0\n"}, nil
}

func failedCommandError(output string) error {
	return execshell.CommandFailedError{
		Command: execshell.ShellCommand{Name: execshell.CommandGit},
		Result: execshell.ExecutionResult{
			ExitCode:       1,
			StandardOutput: output,
		},
	}
}

func TestRepositoryManagerRequiresExecutor(testInstance *testing.T) {
	_, creationError := gitrepo.NewRepositoryManager(nil, nil)
	require.ErrorIs(testInstance, creationError, gitrepo.ErrExecutorNotConfigured)
}

func TestRepositoryManagerMergeArgumentConstruction(testInstance *testing.T) {
	testCases := []struct {
		name              string
		options           gitrepo.MergeOptions
		expectedArguments []string
	}{
		{
			name: testOverlayMergeCaseNameConstant,
			options: gitrepo.MergeOptions{
				Reference:             "downstream/downstream-changes",
				Squash:                true,
				AllowUnrelatedHistory: true,
				Strategy:              "recursive",
				StrategyOption:        "theirs",
			},
			expectedArguments: []string{"merge", "downstream/downstream-changes", "--allow-unrelated-histories", "--squash", "--strategy", "recursive", "-X", "theirs"},
		},
		{
			name: testUpstreamMergeCaseNameConstant,
			options: gitrepo.MergeOptions{
				Reference:              "upstream/main",
				WithoutAutomaticCommit: true,
			},
			expectedArguments: []string{"merge", "upstream/main", "--no-commit"},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			scriptedExecutor := newScriptedGitExecutor()
			repositoryManager, creationError := gitrepo.NewRepositoryManager(nil, scriptedExecutor)
			require.NoError(testInstance, creationError)

			mergeResult, mergeError := repositoryManager.Merge(context.Background(), testRepositoryPathConstant, testCase.options)
			require.NoError(testInstance, mergeError)
			require.Equal(testInstance, gitrepo.MergeStatusCompleted, mergeResult.Status)
			require.Equal(testInstance, testCase.expectedArguments, scriptedExecutor.recordedCommands[0])
		})
	}
}

func TestRepositoryManagerMergeClassification(testInstance *testing.T) {
	testCases := []struct {
		name           string
		mergeError     error
		expectedStatus gitrepo.MergeStatus
		expectError    bool
	}{
		{
			name:           testMergeNoChangesCaseNameConstant,
			mergeError:     failedCommandError(testNothingToCommitOutputConstant),
			expectedStatus: gitrepo.MergeStatusNoChanges,
		},
		{
			name:        testMergeConflictCaseNameConstant,
			mergeError:  failedCommandError(testMergeConflictOutputConstant),
			expectError: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			scriptedExecutor := newScriptedGitExecutor()
			scriptedExecutor.scriptResponse("merge", scriptedResponse{err: testCase.mergeError})

			repositoryManager, creationError := gitrepo.NewRepositoryManager(nil, scriptedExecutor)
			require.NoError(testInstance, creationError)

			mergeResult, mergeError := repositoryManager.Merge(context.Background(), testRepositoryPathConstant, gitrepo.MergeOptions{Reference: "upstream/main"})
			if testCase.expectError {
				require.Error(testInstance, mergeError)
				return
			}
			require.NoError(testInstance, mergeError)
			require.Equal(testInstance, testCase.expectedStatus, mergeResult.Status)
		})
	}
}

func TestRepositoryManagerCommitClassifiesEmptyIndex(testInstance *testing.T) {
	scriptedExecutor := newScriptedGitExecutor()
	scriptedExecutor.scriptResponse("commit", scriptedResponse{err: failedCommandError(testNothingToCommitOutputConstant)})

	repositoryManager, creationError := gitrepo.NewRepositoryManager(nil, scriptedExecutor)
	require.NoError(testInstance, creationError)

	commitResult, commitError := repositoryManager.Commit(context.Background(), testRepositoryPathConstant, "Merge message")
	require.NoError(testInstance, commitError)
	require.Equal(testInstance, gitrepo.MergeStatusNoChanges, commitResult.Status)
}

func TestRepositoryManagerEnsureRemoteToleratesExistingRemote(testInstance *testing.T) {
	scriptedExecutor := newScriptedGitExecutor()
	scriptedExecutor.scriptResponse("remote", scriptedResponse{err: failedCommandError(testRemoteAlreadyExistsOutputConstant)})

	repositoryManager, creationError := gitrepo.NewRepositoryManager(nil, scriptedExecutor)
	require.NoError(testInstance, creationError)

	ensureError := repositoryManager.EnsureRemote(context.Background(), testRepositoryPathConstant, testRemoteNameConstant, testRemoteURLConstant)
	require.NoError(testInstance, ensureError)

	require.Len(testInstance, scriptedExecutor.recordedCommands, 2)
	require.Equal(testInstance, []string{"fetch", testRemoteNameConstant}, scriptedExecutor.recordedCommands[1])
}

func TestRepositoryManagerBranchExistsClassifiesMissingBranch(testInstance *testing.T) {
	scriptedExecutor := newScriptedGitExecutor()
	scriptedExecutor.scriptResponse("rev-parse", scriptedResponse{err: failedCommandError("")})

	repositoryManager, creationError := gitrepo.NewRepositoryManager(nil, scriptedExecutor)
	require.NoError(testInstance, creationError)

	branchExists, existenceError := repositoryManager.BranchExists(context.Background(), testRepositoryPathConstant, "downstream-main")
	require.NoError(testInstance, existenceError)
	require.False(testInstance, branchExists)
}

func TestRepositoryManagerRestoreFileFromRefArguments(testInstance *testing.T) {
	scriptedExecutor := newScriptedGitExecutor()
	repositoryManager, creationError := gitrepo.NewRepositoryManager(nil, scriptedExecutor)
	require.NoError(testInstance, creationError)

	restoreError := repositoryManager.RestoreFileFromRef(context.Background(), testRepositoryPathConstant, "downstream/downstream-changes", ".gitignore")
	require.NoError(testInstance, restoreError)
	require.Equal(testInstance, []string{"checkout", "downstream/downstream-changes", "--", ".gitignore"}, scriptedExecutor.recordedCommands[0])
}

func TestFormatAuthenticatedHTTPSURL(testInstance *testing.T) {
	authenticatedURL, formatError := gitrepo.FormatAuthenticatedHTTPSURL("https://github.com/acme/fork.git", "sync-bot", "token/with:special@chars")
	require.NoError(testInstance, formatError)
	require.True(testInstance, strings.HasPrefix(authenticatedURL, "https://sync-bot:"))
	require.Contains(testInstance, authenticatedURL, "@github.com/acme/fork.git")
	require.NotContains(testInstance, authenticatedURL, "token/with:special@chars")
}

func TestFormatAuthenticatedHTTPSURLLeavesSSHRemotesUnchanged(testInstance *testing.T) {
	authenticatedURL, formatError := gitrepo.FormatAuthenticatedHTTPSURL("git@github.com:acme/fork.git", "sync-bot", "token")
	require.NoError(testInstance, formatError)
	require.Equal(testInstance, "git@github.com:acme/fork.git", authenticatedURL)
}
