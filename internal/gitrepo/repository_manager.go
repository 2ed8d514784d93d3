package gitrepo

import (
	"context"
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/upsync/internal/execshell"
)

const (
	executorNotConfiguredMessageConstant     = "git executor not configured"
	cloneSubcommandConstant                  = "clone"
	remoteSubcommandConstant                 = "remote"
	remoteAddSubcommandConstant              = "add"
	fetchSubcommandConstant                  = "fetch"
	fetchAllFlagConstant                     = "--all"
	revParseSubcommandConstant               = "rev-parse"
	workTreeFlagConstant                     = "--is-inside-work-tree"
	verifyFlagConstant                       = "--verify"
	quietFlagConstant                        = "--quiet"
	localBranchReferencePrefixConstant       = "refs/heads/"
	checkoutSubcommandConstant               = "checkout"
	createBranchFlagConstant                 = "-b"
	pullSubcommandConstant                   = "pull"
	mergeSubcommandConstant                  = "merge"
	mergeSquashFlagConstant                  = "--squash"
	mergeAllowUnrelatedFlagConstant          = "--allow-unrelated-histories"
	mergeStrategyFlagConstant                = "--strategy"
	mergeStrategyOptionFlagConstant          = "-X"
	mergeNoCommitFlagConstant                = "--no-commit"
	mergeAbortFlagConstant                   = "--abort"
	addSubcommandConstant                    = "add"
	addAllFlagConstant                       = "--all"
	commitSubcommandConstant                 = "commit"
	commitMessageFlagConstant                = "-m"
	pushSubcommandConstant                   = "push"
	statusSubcommandConstant                 = "status"
	diffSubcommandConstant                   = "diff"
	resetSubcommandConstant                  = "reset"
	resetHardFlagConstant                    = "--hard"
	headReferenceConstant                    = "HEAD"
	cleanSubcommandConstant                  = "clean"
	cleanForceFlagConstant                   = "-f"
	pathspecSeparatorConstant                = "--"
	listingLongAllFlagConstant               = "-lah"
	remoteAlreadyExistsFragmentConstant      = "already exists"
	nothingToCommitFragmentConstant          = "nothing to commit, working tree clean"
	repositoryOpenedMessageConstant          = "Reusing existing local repository"
	repositoryClonedMessageConstant          = "Cloned repository"
	logFieldRepositoryPathConstant           = "repository_path"
	logFieldRemoteNameConstant               = "remote_name"
	remoteRegisteredMessageConstant          = "Registered remote"
	remoteAlreadyRegisteredMessageConstant   = "Remote already registered"
)

// MergeStatus classifies the structured outcome of a merge or commit invocation.
type MergeStatus string

// Merge status enumerations.
const (
	MergeStatusCompleted MergeStatus = MergeStatus("completed")
	MergeStatusNoChanges MergeStatus = MergeStatus("no_changes")
)

// MergeResult reports the classified merge outcome.
type MergeResult struct {
	Status MergeStatus
}

// MergeOptions describes a merge invocation.
type MergeOptions struct {
	Reference              string
	Squash                 bool
	AllowUnrelatedHistory  bool
	Strategy               string
	StrategyOption         string
	WithoutAutomaticCommit bool
}

// GitExecutor is the minimal interface RepositoryManager requires from execshell.ShellExecutor.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
	ExecuteListing(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// ErrExecutorNotConfigured indicates the manager was constructed without an executor.
var ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)

// RepositoryManager coordinates git invocations against a local repository.
type RepositoryManager struct {
	logger   *zap.Logger
	executor GitExecutor
}

// NewRepositoryManager constructs a RepositoryManager from the provided collaborators.
func NewRepositoryManager(logger *zap.Logger, executor GitExecutor) (*RepositoryManager, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepositoryManager{logger: logger, executor: executor}, nil
}

// CloneOrOpen clones the remote into localPath when no directory exists there
// and otherwise verifies the existing directory is a git work tree.
func (manager *RepositoryManager) CloneOrOpen(executionContext context.Context, remoteURL string, localPath string) error {
	if _, statError := os.Stat(localPath); statError == nil {
		_, verifyError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
			Arguments:        []string{revParseSubcommandConstant, workTreeFlagConstant},
			WorkingDirectory: localPath,
		})
		if verifyError != nil {
			return verifyError
		}
		manager.logger.Debug(repositoryOpenedMessageConstant, zap.String(logFieldRepositoryPathConstant, localPath))
		return nil
	}

	_, cloneError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments: []string{cloneSubcommandConstant, remoteURL, localPath},
	})
	if cloneError != nil {
		return cloneError
	}
	manager.logger.Debug(repositoryClonedMessageConstant, zap.String(logFieldRepositoryPathConstant, localPath))
	return nil
}

// EnsureRemote registers a named remote when absent and fetches it. An
// already-registered remote is not an error.
func (manager *RepositoryManager) EnsureRemote(executionContext context.Context, repositoryPath string, remoteName string, remoteURL string) error {
	_, addError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{remoteSubcommandConstant, remoteAddSubcommandConstant, remoteName, remoteURL},
		WorkingDirectory: repositoryPath,
	})
	if addError != nil {
		if !commandOutputContains(addError, remoteAlreadyExistsFragmentConstant) {
			return addError
		}
		manager.logger.Debug(remoteAlreadyRegisteredMessageConstant, zap.String(logFieldRemoteNameConstant, remoteName))
	} else {
		manager.logger.Debug(remoteRegisteredMessageConstant, zap.String(logFieldRemoteNameConstant, remoteName))
	}

	_, fetchError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{fetchSubcommandConstant, remoteName},
		WorkingDirectory: repositoryPath,
	})
	return fetchError
}

// FetchAllRemotes fetches every configured remote.
func (manager *RepositoryManager) FetchAllRemotes(executionContext context.Context, repositoryPath string) error {
	_, fetchError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{fetchSubcommandConstant, fetchAllFlagConstant},
		WorkingDirectory: repositoryPath,
	})
	return fetchError
}

// BranchExists reports whether a local branch with the provided name exists.
func (manager *RepositoryManager) BranchExists(executionContext context.Context, repositoryPath string, branchName string) (bool, error) {
	_, verifyError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{revParseSubcommandConstant, verifyFlagConstant, quietFlagConstant, localBranchReferencePrefixConstant + branchName},
		WorkingDirectory: repositoryPath,
	})
	if verifyError != nil {
		var commandFailure execshell.CommandFailedError
		if errors.As(verifyError, &commandFailure) {
			return false, nil
		}
		return false, verifyError
	}
	return true, nil
}

// CheckoutBranch switches the work tree to the provided reference.
func (manager *RepositoryManager) CheckoutBranch(executionContext context.Context, repositoryPath string, reference string) error {
	_, checkoutError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{checkoutSubcommandConstant, reference},
		WorkingDirectory: repositoryPath,
	})
	return checkoutError
}

// CreateBranchFrom checks out the start reference and branches from there.
func (manager *RepositoryManager) CreateBranchFrom(executionContext context.Context, repositoryPath string, branchName string, startReference string) error {
	if checkoutError := manager.CheckoutBranch(executionContext, repositoryPath, startReference); checkoutError != nil {
		return checkoutError
	}
	_, branchError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{checkoutSubcommandConstant, createBranchFlagConstant, branchName},
		WorkingDirectory: repositoryPath,
	})
	return branchError
}

// Pull integrates the remote branch into the current branch.
func (manager *RepositoryManager) Pull(executionContext context.Context, repositoryPath string, remoteName string, branchName string) error {
	_, pullError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{pullSubcommandConstant, remoteName, branchName},
		WorkingDirectory: repositoryPath,
	})
	return pullError
}

// Merge merges the configured reference into the current branch. The exact
// "nothing to commit, working tree clean" tool output is classified as
// MergeStatusNoChanges instead of surfacing as an error, so callers never
// branch on error text.
func (manager *RepositoryManager) Merge(executionContext context.Context, repositoryPath string, options MergeOptions) (MergeResult, error) {
	mergeArguments := []string{mergeSubcommandConstant, options.Reference}
	if options.AllowUnrelatedHistory {
		mergeArguments = append(mergeArguments, mergeAllowUnrelatedFlagConstant)
	}
	if options.Squash {
		mergeArguments = append(mergeArguments, mergeSquashFlagConstant)
	}
	if len(options.Strategy) > 0 {
		mergeArguments = append(mergeArguments, mergeStrategyFlagConstant, options.Strategy)
	}
	if len(options.StrategyOption) > 0 {
		mergeArguments = append(mergeArguments, mergeStrategyOptionFlagConstant, options.StrategyOption)
	}
	if options.WithoutAutomaticCommit {
		mergeArguments = append(mergeArguments, mergeNoCommitFlagConstant)
	}

	_, mergeError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        mergeArguments,
		WorkingDirectory: repositoryPath,
	})
	if mergeError != nil {
		if commandOutputContains(mergeError, nothingToCommitFragmentConstant) {
			return MergeResult{Status: MergeStatusNoChanges}, nil
		}
		return MergeResult{}, mergeError
	}
	return MergeResult{Status: MergeStatusCompleted}, nil
}

// StageAll stages every change in the work tree.
func (manager *RepositoryManager) StageAll(executionContext context.Context, repositoryPath string) error {
	_, stageError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{addSubcommandConstant, addAllFlagConstant},
		WorkingDirectory: repositoryPath,
	})
	return stageError
}

// Commit records staged changes with the provided message. An empty index is
// classified as MergeStatusNoChanges rather than an error.
func (manager *RepositoryManager) Commit(executionContext context.Context, repositoryPath string, commitMessage string) (MergeResult, error) {
	_, commitError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{commitSubcommandConstant, commitMessageFlagConstant, commitMessage},
		WorkingDirectory: repositoryPath,
	})
	if commitError != nil {
		if commandOutputContains(commitError, nothingToCommitFragmentConstant) {
			return MergeResult{Status: MergeStatusNoChanges}, nil
		}
		return MergeResult{}, commitError
	}
	return MergeResult{Status: MergeStatusCompleted}, nil
}

// Push publishes the branch to the provided remote.
func (manager *RepositoryManager) Push(executionContext context.Context, repositoryPath string, remoteName string, branchName string) error {
	_, pushError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{pushSubcommandConstant, remoteName, branchName},
		WorkingDirectory: repositoryPath,
	})
	return pushError
}

// RestoreFileFromRef restores a single file from the provided reference into
// the work tree and index.
func (manager *RepositoryManager) RestoreFileFromRef(executionContext context.Context, repositoryPath string, reference string, filePath string) error {
	_, restoreError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{checkoutSubcommandConstant, reference, pathspecSeparatorConstant, filePath},
		WorkingDirectory: repositoryPath,
	})
	return restoreError
}

// WorktreeStatus captures the human-readable status of the work tree.
func (manager *RepositoryManager) WorktreeStatus(executionContext context.Context, repositoryPath string) (string, error) {
	statusResult, statusError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{statusSubcommandConstant},
		WorkingDirectory: repositoryPath,
	})
	if statusError != nil {
		return "", statusError
	}
	return statusResult.StandardOutput, nil
}

// Diff captures the unstaged differences in the work tree.
func (manager *RepositoryManager) Diff(executionContext context.Context, repositoryPath string) (string, error) {
	diffResult, diffError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{diffSubcommandConstant},
		WorkingDirectory: repositoryPath,
	})
	if diffError != nil {
		return "", diffError
	}
	return diffResult.StandardOutput, nil
}

// ListWorkingDirectory captures a detailed listing of the work tree root.
func (manager *RepositoryManager) ListWorkingDirectory(executionContext context.Context, repositoryPath string) (string, error) {
	listingResult, listingError := manager.executor.ExecuteListing(executionContext, execshell.CommandDetails{
		Arguments:        []string{listingLongAllFlagConstant},
		WorkingDirectory: repositoryPath,
	})
	if listingError != nil {
		return "", listingError
	}
	return listingResult.StandardOutput, nil
}

// AbortMerge aborts any in-progress merge.
func (manager *RepositoryManager) AbortMerge(executionContext context.Context, repositoryPath string) error {
	_, abortError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{mergeSubcommandConstant, mergeAbortFlagConstant},
		WorkingDirectory: repositoryPath,
	})
	return abortError
}

// ResetHard discards every tracked modification back to HEAD.
func (manager *RepositoryManager) ResetHard(executionContext context.Context, repositoryPath string) error {
	_, resetError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{resetSubcommandConstant, resetHardFlagConstant, headReferenceConstant},
		WorkingDirectory: repositoryPath,
	})
	return resetError
}

// RemoveUntrackedFiles deletes untracked files from the work tree.
func (manager *RepositoryManager) RemoveUntrackedFiles(executionContext context.Context, repositoryPath string) error {
	_, cleanError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{cleanSubcommandConstant, cleanForceFlagConstant},
		WorkingDirectory: repositoryPath,
	})
	return cleanError
}

func commandOutputContains(commandError error, fragment string) bool {
	var commandFailure execshell.CommandFailedError
	if !errors.As(commandError, &commandFailure) {
		return false
	}
	return strings.Contains(commandFailure.Result.StandardOutput, fragment) ||
		strings.Contains(commandFailure.Result.StandardError, fragment)
}
