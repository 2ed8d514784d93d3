package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"

	"github.com/temirov/upsync/internal/execshell"
	"github.com/temirov/upsync/internal/githubapi"
	"github.com/temirov/upsync/internal/reconcile"
)

const (
	issueServiceNotConfiguredMessageConstant = "issue service not configured"
	issueTitleTemplateConstant               = "Error merging upstream/%s into %s"
	treeURLTemplateConstant                  = "%s/tree/%s"
	templateStartTagConstant                 = "{{"
	templateEndTagConstant                   = "}}"
	diagnosticUnavailableConstant            = "(unavailable)"
	exitStatusUnknownConstant                = "unknown"
	commandWordSeparatorConstant             = " "
	duplicateIssueFoundMessageConstant       = "Open issue with matching title already exists, skipping"
	issueCreatedMessageConstant              = "Filed merge failure issue"
	issueListFailedMessageConstant           = "Could not list open issues, skipping report"
	issueCreateFailedMessageConstant         = "Could not create issue, skipping report"
	logFieldIssueTitleConstant               = "issue_title"
	logFieldIssueURLConstant                 = "issue_url"

	issueBodyTemplateConstant = `Automatic reconciliation of [upstream/{{source_branch}}]({{upstream_tree_url}}) into [{{target_branch}}]({{downstream_tree_url}}) failed.

**Command:** ` + "`{{command}}`" + `
**Exit status:** {{exit_status}}

**Stdout:**
` + "```" + `
{{stdout}}
` + "```" + `

**Stderr:**
` + "```" + `
{{stderr}}
` + "```" + `

**git status:**
` + "```" + `
{{git_status}}
` + "```" + `

**Working tree (ls -lah):**
` + "```" + `
{{directory_listing}}
` + "```" + `

**git diff:**
` + "```" + `
{{git_diff}}
` + "```" + `
`
)

// IssueService is the slice of githubapi.Client the reporter uses.
type IssueService interface {
	ListOpenIssues(executionContext context.Context, repository githubapi.Repository) ([]githubapi.Issue, error)
	CreateIssue(executionContext context.Context, repository githubapi.Repository, request githubapi.IssueRequest) (githubapi.Issue, error)
}

// DiagnosticsProvider captures live work-tree diagnostics for issue bodies.
type DiagnosticsProvider interface {
	WorktreeStatus(executionContext context.Context, repositoryPath string) (string, error)
	Diff(executionContext context.Context, repositoryPath string) (string, error)
	ListWorkingDirectory(executionContext context.Context, repositoryPath string) (string, error)
}

// ErrIssueServiceNotConfigured indicates the reporter was constructed without an issue service.
var ErrIssueServiceNotConfigured = errors.New(issueServiceNotConfiguredMessageConstant)

// FailureReport describes one failed branch pair reconciliation.
type FailureReport struct {
	UpstreamRepository   githubapi.Repository
	DownstreamRepository githubapi.Repository
	Pair                 reconcile.BranchPair
	FailureCause         error
	RepositoryPath       string
	Assignees            []string
}

// Reporter files merge failure issues on the downstream repository.
type Reporter struct {
	logger       *zap.Logger
	issueService IssueService
	diagnostics  DiagnosticsProvider
}

// NewReporter validates the collaborators and constructs a Reporter. The
// diagnostics provider is optional; without one the diagnostic sections
// render as unavailable.
func NewReporter(logger *zap.Logger, issueService IssueService, diagnostics DiagnosticsProvider) (*Reporter, error) {
	if issueService == nil {
		return nil, ErrIssueServiceNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger, issueService: issueService, diagnostics: diagnostics}, nil
}

// FormatIssueTitle renders the deterministic title used for duplicate suppression.
func FormatIssueTitle(sourceBranchName string, targetBranchName string) string {
	return fmt.Sprintf(issueTitleTemplateConstant, sourceBranchName, targetBranchName)
}

// ReportFailure files an issue for the failed pair unless an open issue with
// the same title already exists. Every internal error is logged and
// swallowed.
func (reporter *Reporter) ReportFailure(executionContext context.Context, failureReport FailureReport) {
	issueTitle := FormatIssueTitle(failureReport.Pair.SourceBranch, failureReport.Pair.TargetBranch)

	openIssues, listError := reporter.issueService.ListOpenIssues(executionContext, failureReport.DownstreamRepository)
	if listError != nil {
		reporter.logger.Error(issueListFailedMessageConstant, zap.String(logFieldIssueTitleConstant, issueTitle), zap.Error(listError))
		return
	}
	for _, openIssue := range openIssues {
		if openIssue.Title == issueTitle {
			reporter.logger.Info(
				duplicateIssueFoundMessageConstant,
				zap.String(logFieldIssueTitleConstant, issueTitle),
				zap.String(logFieldIssueURLConstant, openIssue.HTMLURL),
			)
			return
		}
	}

	issueBody := reporter.renderIssueBody(executionContext, failureReport)
	createdIssue, createError := reporter.issueService.CreateIssue(executionContext, failureReport.DownstreamRepository, githubapi.IssueRequest{
		Title:     issueTitle,
		Body:      issueBody,
		Assignees: failureReport.Assignees,
	})
	if createError != nil {
		reporter.logger.Error(issueCreateFailedMessageConstant, zap.String(logFieldIssueTitleConstant, issueTitle), zap.Error(createError))
		return
	}

	reporter.logger.Info(
		issueCreatedMessageConstant,
		zap.String(logFieldIssueTitleConstant, issueTitle),
		zap.String(logFieldIssueURLConstant, createdIssue.HTMLURL),
	)
}

func (reporter *Reporter) renderIssueBody(executionContext context.Context, failureReport FailureReport) string {
	failedCommand, exitStatus, standardOutput, standardError := describeFailure(failureReport.FailureCause)

	bodyTemplate := fasttemplate.New(issueBodyTemplateConstant, templateStartTagConstant, templateEndTagConstant)
	return bodyTemplate.ExecuteString(map[string]any{
		"source_branch":       failureReport.Pair.SourceBranch,
		"target_branch":       failureReport.Pair.TargetBranch,
		"upstream_tree_url":   fmt.Sprintf(treeURLTemplateConstant, failureReport.UpstreamRepository.HTMLURL, failureReport.Pair.SourceBranch),
		"downstream_tree_url": fmt.Sprintf(treeURLTemplateConstant, failureReport.DownstreamRepository.HTMLURL, failureReport.Pair.TargetBranch),
		"command":             failedCommand,
		"exit_status":         exitStatus,
		"stdout":              standardOutput,
		"stderr":              standardError,
		"git_status":          reporter.captureDiagnostic(executionContext, failureReport.RepositoryPath, diagnosticStatus),
		"directory_listing":   reporter.captureDiagnostic(executionContext, failureReport.RepositoryPath, diagnosticListing),
		"git_diff":            reporter.captureDiagnostic(executionContext, failureReport.RepositoryPath, diagnosticDiff),
	})
}

type diagnosticKind int

const (
	diagnosticStatus diagnosticKind = iota
	diagnosticListing
	diagnosticDiff
)

func (reporter *Reporter) captureDiagnostic(executionContext context.Context, repositoryPath string, kind diagnosticKind) string {
	if reporter.diagnostics == nil {
		return diagnosticUnavailableConstant
	}

	var diagnosticOutput string
	var diagnosticError error
	switch kind {
	case diagnosticStatus:
		diagnosticOutput, diagnosticError = reporter.diagnostics.WorktreeStatus(executionContext, repositoryPath)
	case diagnosticListing:
		diagnosticOutput, diagnosticError = reporter.diagnostics.ListWorkingDirectory(executionContext, repositoryPath)
	case diagnosticDiff:
		diagnosticOutput, diagnosticError = reporter.diagnostics.Diff(executionContext, repositoryPath)
	}
	if diagnosticError != nil {
		return diagnosticUnavailableConstant
	}
	return strings.TrimRight(diagnosticOutput, "\n")
}

func describeFailure(failureCause error) (string, string, string, string) {
	var commandFailure execshell.CommandFailedError
	if errors.As(failureCause, &commandFailure) {
		commandWords := append([]string{string(commandFailure.Command.Name)}, commandFailure.Command.Details.Arguments...)
		return strings.Join(commandWords, commandWordSeparatorConstant),
			strconv.Itoa(commandFailure.Result.ExitCode),
			strings.TrimRight(commandFailure.Result.StandardOutput, "\n"),
			strings.TrimRight(commandFailure.Result.StandardError, "\n")
	}
	if failureCause != nil {
		return failureCause.Error(), exitStatusUnknownConstant, "", ""
	}
	return "", exitStatusUnknownConstant, "", ""
}
