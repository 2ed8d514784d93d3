package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/upsync/internal/execshell"
	"github.com/temirov/upsync/internal/githubapi"
	"github.com/temirov/upsync/internal/githubauth"
	"github.com/temirov/upsync/internal/gitrepo"
	"github.com/temirov/upsync/internal/reconcile"
	"github.com/temirov/upsync/internal/report"
	"github.com/temirov/upsync/internal/utils"
)

const (
	commandUseConstant              = "sync"
	commandShortDescriptionConstant = "Reconcile downstream fork branches with their upstream sources"
	commandLongDescriptionConstant  = "sync clones or updates the local downstream repository, merges each configured upstream branch into its downstream counterpart, optionally seeding new branches with a squash merge of the overlay branch, runs verification hooks, pushes the results, and files a tracking issue when a pair fails."

	configFlagNameConstant            = "config"
	configFlagShorthandConstant       = "c"
	configFlagUsageConstant           = "Path to the bot configuration file"
	upstreamFlagNameConstant          = "upstream"
	upstreamFlagShorthandConstant     = "u"
	upstreamFlagUsageConstant         = "Upstream repository in owner/name form"
	downstreamFlagNameConstant        = "downstream"
	downstreamFlagShorthandConstant   = "d"
	downstreamFlagUsageConstant       = "Downstream repository in owner/name form"
	upstreamBranchFlagNameConstant    = "upstream-branch"
	upstreamBranchShorthandConstant   = "U"
	upstreamBranchFlagUsageConstant   = "Single upstream source branch, replaces the configured branch list"
	downstreamBranchFlagNameConstant  = "downstream-branch"
	downstreamBranchShorthandConstant = "D"
	downstreamBranchFlagUsageConstant = "Single downstream target branch, replaces the configured branch list"
	overlayBranchFlagNameConstant     = "overlay-branch"
	overlayBranchShorthandConstant    = "o"
	overlayBranchFlagUsageConstant    = "Downstream overlay branch squash-merged into newly created targets"
	forceOverlayFlagNameConstant      = "force-overlay"
	forceOverlayShorthandConstant     = "f"
	forceOverlayFlagUsageConstant     = "Merge the overlay branch even when the sentinel file is present"
	logLevelFlagNameConstant          = "log-level"
	logLevelShorthandConstant         = "v"
	logLevelFlagUsageConstant         = "Logging verbosity: debug, info, warn, or error"
	exitOnErrorFlagNameConstant       = "exit-on-error"
	exitOnErrorShorthandConstant      = "e"
	exitOnErrorFlagUsageConstant      = "Abort the run on the first failing branch pair"
	noPushFlagNameConstant            = "no-push"
	noPushFlagUsageConstant           = "Merge and commit locally without pushing"
	noIssueFlagNameConstant           = "no-issue"
	noIssueFlagUsageConstant          = "Do not file tracking issues for failed branch pairs"

	branchFlagsPairingMessageConstant        = "--upstream-branch and --downstream-branch must be provided together"
	executorCreationErrorTemplateConstant    = "unable to construct shell executor: %w"
	managerCreationErrorTemplateConstant     = "unable to construct repository manager: %w"
	clientCreationErrorTemplateConstant      = "unable to construct GitHub client: %w"
	reconcilerCreationErrorTemplateConstant  = "unable to construct reconciler: %w"
	reporterCreationErrorTemplateConstant    = "unable to construct failure reporter: %w"
	repositoryResolveErrorTemplateConstant   = "unable to resolve repository %s: %w"
	authenticatedUserErrorTemplateConstant   = "unable to resolve authenticated user: %w"
	repositoryPrepareErrorTemplateConstant   = "unable to prepare local repository: %w"
	pairFailureErrorTemplateConstant         = "reconciliation of upstream/%s into %s failed: %w"
	runCompletedMessageConstant              = "Reconciliation run completed"
	pairFailedMessageConstant                = "Branch pair reconciliation failed"
	logFieldSourceBranchConstant             = "source_branch"
	logFieldTargetBranchConstant             = "target_branch"
	logFieldFailedStepConstant               = "failed_step"
	logFieldSucceededPairsConstant           = "succeeded"
	logFieldNoOpPairsConstant                = "unchanged"
	logFieldFailedPairsConstant              = "failed"
	credentialRequiredFieldMessageConstant   = "is required, set it or export GITHUB_ACCESS_TOKEN, GH_TOKEN, or GITHUB_TOKEN"
)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// GitHubService is the slice of githubapi.Client the sync command uses.
type GitHubService interface {
	ResolveRepository(executionContext context.Context, identifier string) (githubapi.Repository, error)
	AuthenticatedUser(executionContext context.Context) (string, error)
	ListOpenIssues(executionContext context.Context, repository githubapi.Repository) ([]githubapi.Issue, error)
	CreateIssue(executionContext context.Context, repository githubapi.Repository, request githubapi.IssueRequest) (githubapi.Issue, error)
}

// GitHubServiceProvider constructs a GitHub service from an access token.
type GitHubServiceProvider func(accessToken string) (GitHubService, error)

// CommandBuilder assembles the sync Cobra command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	LogLevelApplier       func(utils.LogLevel)
	SecretRegistrar       func(secret string)
	CommandRunner         execshell.CommandRunner
	GitHubServiceProvider GitHubServiceProvider
	WorkingDirectory      string
}

type runSettings struct {
	configuration BotConfiguration
	pairs         []reconcile.BranchPair
	hooks         []reconcile.Hook
}

// Build constructs the sync command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:           commandUseConstant,
		Short:         commandShortDescriptionConstant,
		Long:          commandLongDescriptionConstant,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          builder.runSync,
	}

	command.Flags().StringP(configFlagNameConstant, configFlagShorthandConstant, "", configFlagUsageConstant)
	command.Flags().StringP(upstreamFlagNameConstant, upstreamFlagShorthandConstant, "", upstreamFlagUsageConstant)
	command.Flags().StringP(downstreamFlagNameConstant, downstreamFlagShorthandConstant, "", downstreamFlagUsageConstant)
	command.Flags().StringP(upstreamBranchFlagNameConstant, upstreamBranchShorthandConstant, "", upstreamBranchFlagUsageConstant)
	command.Flags().StringP(downstreamBranchFlagNameConstant, downstreamBranchShorthandConstant, "", downstreamBranchFlagUsageConstant)
	command.Flags().StringP(overlayBranchFlagNameConstant, overlayBranchShorthandConstant, "", overlayBranchFlagUsageConstant)
	command.Flags().BoolP(forceOverlayFlagNameConstant, forceOverlayShorthandConstant, false, forceOverlayFlagUsageConstant)
	command.Flags().StringP(logLevelFlagNameConstant, logLevelShorthandConstant, "", logLevelFlagUsageConstant)
	command.Flags().BoolP(exitOnErrorFlagNameConstant, exitOnErrorShorthandConstant, false, exitOnErrorFlagUsageConstant)
	command.Flags().Bool(noPushFlagNameConstant, false, noPushFlagUsageConstant)
	command.Flags().Bool(noIssueFlagNameConstant, false, noIssueFlagUsageConstant)

	return command, nil
}

func (builder *CommandBuilder) runSync(command *cobra.Command, _ []string) error {
	settings, settingsError := builder.resolveSettings(command)
	if settingsError != nil {
		return settingsError
	}
	configuration := settings.configuration

	accessToken, tokenFound := githubauth.ResolveToken(configuration.Credential)
	if !tokenFound {
		return ConfigError{Field: credentialFieldNameConstant, Message: credentialRequiredFieldMessageConstant}
	}
	if builder.SecretRegistrar != nil {
		builder.SecretRegistrar(accessToken)
	}

	configuredLogLevel, logLevelError := utils.ParseLogLevel(configuration.LogLevel)
	if logLevelError != nil {
		return ConfigError{Field: logLevelFieldNameConstant, Message: logLevelError.Error()}
	}
	if builder.LogLevelApplier != nil {
		builder.LogLevelApplier(configuredLogLevel)
	}

	logger := builder.resolveLogger()

	shellExecutor, executorError := builder.resolveExecutor(logger)
	if executorError != nil {
		return fmt.Errorf(executorCreationErrorTemplateConstant, executorError)
	}

	repositoryManager, managerError := gitrepo.NewRepositoryManager(logger, shellExecutor)
	if managerError != nil {
		return fmt.Errorf(managerCreationErrorTemplateConstant, managerError)
	}

	githubService, clientError := builder.resolveGitHubService(accessToken)
	if clientError != nil {
		return fmt.Errorf(clientCreationErrorTemplateConstant, clientError)
	}

	executionContext := command.Context()

	upstreamRepository, upstreamError := githubService.ResolveRepository(executionContext, configuration.Upstream)
	if upstreamError != nil {
		return fmt.Errorf(repositoryResolveErrorTemplateConstant, configuration.Upstream, upstreamError)
	}
	downstreamRepository, downstreamError := githubService.ResolveRepository(executionContext, configuration.Downstream)
	if downstreamError != nil {
		return fmt.Errorf(repositoryResolveErrorTemplateConstant, configuration.Downstream, downstreamError)
	}
	authenticatedLogin, loginError := githubService.AuthenticatedUser(executionContext)
	if loginError != nil {
		return fmt.Errorf(authenticatedUserErrorTemplateConstant, loginError)
	}

	authenticatedCloneURL, urlError := gitrepo.FormatAuthenticatedHTTPSURL(downstreamRepository.CloneURL, authenticatedLogin, accessToken)
	if urlError != nil {
		return fmt.Errorf(repositoryPrepareErrorTemplateConstant, urlError)
	}

	repositoryPath := filepath.Join(builder.resolveWorkingDirectory(), downstreamRepository.Name)
	if prepareError := builder.prepareLocalRepository(executionContext, repositoryManager, repositoryPath, authenticatedCloneURL, upstreamRepository.CloneURL); prepareError != nil {
		return fmt.Errorf(repositoryPrepareErrorTemplateConstant, prepareError)
	}

	reconciler, reconcilerError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger:     logger,
		Repository: repositoryManager,
		HookRunner: shellExecutor,
	})
	if reconcilerError != nil {
		return fmt.Errorf(reconcilerCreationErrorTemplateConstant, reconcilerError)
	}

	failureReporter, reporterError := report.NewReporter(logger, githubService, repositoryManager)
	if reporterError != nil {
		return fmt.Errorf(reporterCreationErrorTemplateConstant, reporterError)
	}

	runOptions := reconcile.RunOptions{
		RepositoryPath: repositoryPath,
		OverlayBranch:  configuration.OverlayBranch,
		ForceOverlay:   configuration.ForceOverlay,
		PushEnabled:    !configuration.NoPush,
		Hooks:          settings.hooks,
	}

	var pairFailures []error
	succeededPairs, unchangedPairs := 0, 0

	for _, branchPair := range settings.pairs {
		pairResult := reconciler.ReconcilePair(executionContext, runOptions, branchPair)
		switch pairResult.Outcome {
		case reconcile.OutcomeSuccess:
			succeededPairs++
			continue
		case reconcile.OutcomeNoOp:
			unchangedPairs++
			continue
		}

		pairFailure := fmt.Errorf(pairFailureErrorTemplateConstant, branchPair.SourceBranch, branchPair.TargetBranch, pairResult.FailureCause)
		logger.Error(
			pairFailedMessageConstant,
			zap.String(logFieldSourceBranchConstant, branchPair.SourceBranch),
			zap.String(logFieldTargetBranchConstant, branchPair.TargetBranch),
			zap.String(logFieldFailedStepConstant, string(pairResult.FailedStep)),
			zap.Error(pairResult.FailureCause),
		)

		if configuration.ExitOnError {
			return pairFailure
		}
		if !configuration.NoIssue {
			failureReporter.ReportFailure(executionContext, report.FailureReport{
				UpstreamRepository:   upstreamRepository,
				DownstreamRepository: downstreamRepository,
				Pair:                 branchPair,
				FailureCause:         pairResult.FailureCause,
				RepositoryPath:       repositoryPath,
				Assignees:            configuration.Assignees,
			})
		}
		reconciler.Cleanup(executionContext, repositoryPath)
		pairFailures = append(pairFailures, pairFailure)
	}

	logger.Info(
		runCompletedMessageConstant,
		zap.Int(logFieldSucceededPairsConstant, succeededPairs),
		zap.Int(logFieldNoOpPairsConstant, unchangedPairs),
		zap.Int(logFieldFailedPairsConstant, len(pairFailures)),
	)

	if len(pairFailures) > 0 {
		return errors.Join(pairFailures...)
	}
	return nil
}

func (builder *CommandBuilder) resolveSettings(command *cobra.Command) (runSettings, error) {
	configFlagValue, _ := command.Flags().GetString(configFlagNameConstant)
	configurationPath := ResolveConfigurationPath(configFlagValue)

	// Required fields are checked after flag overrides merge, so a file that
	// omits them is acceptable when the flags fill the gap.
	configuration, loadError := decodeBotConfiguration(configurationPath)
	if loadError != nil {
		return runSettings{}, loadError
	}

	if applyError := applyFlagOverrides(command, &configuration); applyError != nil {
		return runSettings{}, applyError
	}

	branchPairs := make([]reconcile.BranchPair, 0, len(configuration.Branches))
	for _, configuredPair := range configuration.Branches {
		branchPairs = append(branchPairs, reconcile.BranchPair{
			SourceBranch: configuredPair.Source,
			TargetBranch: configuredPair.Target,
			ForceOverlay: configuredPair.ForceOverlay,
		})
	}

	verificationHooks := make([]reconcile.Hook, 0, len(configuration.PreCommitHooks))
	for _, configuredHook := range configuration.PreCommitHooks {
		verificationHooks = append(verificationHooks, reconcile.Hook{
			Name:    configuredHook.Name,
			Command: configuredHook.Command,
		})
	}

	return runSettings{configuration: configuration, pairs: branchPairs, hooks: verificationHooks}, nil
}

func applyFlagOverrides(command *cobra.Command, configuration *BotConfiguration) error {
	commandFlags := command.Flags()

	if commandFlags.Changed(upstreamFlagNameConstant) {
		flagValue, _ := commandFlags.GetString(upstreamFlagNameConstant)
		configuration.Upstream = strings.TrimSpace(flagValue)
	}
	if commandFlags.Changed(downstreamFlagNameConstant) {
		flagValue, _ := commandFlags.GetString(downstreamFlagNameConstant)
		configuration.Downstream = strings.TrimSpace(flagValue)
	}

	upstreamBranchChanged := commandFlags.Changed(upstreamBranchFlagNameConstant)
	downstreamBranchChanged := commandFlags.Changed(downstreamBranchFlagNameConstant)
	if upstreamBranchChanged != downstreamBranchChanged {
		return errors.New(branchFlagsPairingMessageConstant)
	}
	if upstreamBranchChanged {
		sourceBranch, _ := commandFlags.GetString(upstreamBranchFlagNameConstant)
		targetBranch, _ := commandFlags.GetString(downstreamBranchFlagNameConstant)
		configuration.Branches = []BranchPairConfiguration{{
			Source: strings.TrimSpace(sourceBranch),
			Target: strings.TrimSpace(targetBranch),
		}}
	}

	if commandFlags.Changed(overlayBranchFlagNameConstant) {
		flagValue, _ := commandFlags.GetString(overlayBranchFlagNameConstant)
		configuration.OverlayBranch = strings.TrimSpace(flagValue)
	}
	if commandFlags.Changed(forceOverlayFlagNameConstant) {
		flagValue, _ := commandFlags.GetBool(forceOverlayFlagNameConstant)
		configuration.ForceOverlay = flagValue
	}
	if commandFlags.Changed(logLevelFlagNameConstant) {
		flagValue, _ := commandFlags.GetString(logLevelFlagNameConstant)
		configuration.LogLevel = strings.TrimSpace(flagValue)
	}
	if commandFlags.Changed(exitOnErrorFlagNameConstant) {
		flagValue, _ := commandFlags.GetBool(exitOnErrorFlagNameConstant)
		configuration.ExitOnError = flagValue
	}
	if commandFlags.Changed(noPushFlagNameConstant) {
		flagValue, _ := commandFlags.GetBool(noPushFlagNameConstant)
		configuration.NoPush = flagValue
	}
	if commandFlags.Changed(noIssueFlagNameConstant) {
		flagValue, _ := commandFlags.GetBool(noIssueFlagNameConstant)
		configuration.NoIssue = flagValue
	}

	return configuration.validate()
}

func (builder *CommandBuilder) prepareLocalRepository(executionContext context.Context, repositoryManager *gitrepo.RepositoryManager, repositoryPath string, downstreamURL string, upstreamURL string) error {
	if cloneError := repositoryManager.CloneOrOpen(executionContext, downstreamURL, repositoryPath); cloneError != nil {
		return cloneError
	}
	if remoteError := repositoryManager.EnsureRemote(executionContext, repositoryPath, reconcile.UpstreamRemoteName, upstreamURL); remoteError != nil {
		return remoteError
	}
	return repositoryManager.EnsureRemote(executionContext, repositoryPath, reconcile.DownstreamRemoteName, downstreamURL)
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider != nil {
		if providedLogger := builder.LoggerProvider(); providedLogger != nil {
			return providedLogger
		}
	}
	return zap.NewNop()
}

func (builder *CommandBuilder) resolveExecutor(logger *zap.Logger) (*execshell.ShellExecutor, error) {
	commandRunner := builder.CommandRunner
	if commandRunner == nil {
		commandRunner = execshell.NewOSCommandRunner()
	}
	return execshell.NewShellExecutor(logger, commandRunner)
}

func (builder *CommandBuilder) resolveGitHubService(accessToken string) (GitHubService, error) {
	if builder.GitHubServiceProvider != nil {
		return builder.GitHubServiceProvider(accessToken)
	}
	return githubapi.NewClient(accessToken)
}

func (builder *CommandBuilder) resolveWorkingDirectory() string {
	trimmedWorkingDirectory := strings.TrimSpace(builder.WorkingDirectory)
	if len(trimmedWorkingDirectory) == 0 {
		return "."
	}
	return trimmedWorkingDirectory
}
