package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"
)

const (
	accessTokenRequiredMessageConstant        = "github access token required"
	repositoryIdentifierFormatMessageConstant = "repository identifier must use the owner/name form"
	repositoryIdentifierTemplateConstant      = "%s: %q"
	issueStateOpenConstant                    = "open"
	issueListPageSizeConstant                 = 100
	repositoryIdentifierSeparatorConstant     = "/"
	authenticatedUserSelfReferenceConstant    = ""
)

// Repository carries the metadata upsync needs from a hosted repository.
type Repository struct {
	Owner         string
	Name          string
	HTMLURL       string
	SSHURL        string
	CloneURL      string
	DefaultBranch string
}

// FullName renders the owner/name identifier.
func (repository Repository) FullName() string {
	return repository.Owner + repositoryIdentifierSeparatorConstant + repository.Name
}

// Issue describes a tracker issue relevant to duplicate suppression.
type Issue struct {
	Number  int
	Title   string
	HTMLURL string
}

// IssueRequest describes a new tracker issue.
type IssueRequest struct {
	Title     string
	Body      string
	Assignees []string
}

// ErrAccessTokenRequired indicates the client was constructed without a credential.
var ErrAccessTokenRequired = errors.New(accessTokenRequiredMessageConstant)

// InvalidRepositoryIdentifierError reports a malformed owner/name identifier.
type InvalidRepositoryIdentifierError struct {
	Identifier string
}

// Error describes the malformed identifier.
func (identifierError InvalidRepositoryIdentifierError) Error() string {
	return fmt.Sprintf(repositoryIdentifierTemplateConstant, repositoryIdentifierFormatMessageConstant, identifierError.Identifier)
}

// Client coordinates GitHub REST operations.
type Client struct {
	restClient *gh.Client
}

// NewClient constructs an authenticated client for github.com.
func NewClient(accessToken string) (*Client, error) {
	trimmedToken := strings.TrimSpace(accessToken)
	if len(trimmedToken) == 0 {
		return nil, ErrAccessTokenRequired
	}
	return &Client{restClient: gh.NewClient(nil).WithAuthToken(trimmedToken)}, nil
}

// NewClientWithBaseURL constructs an authenticated client against an
// alternate API endpoint, which also serves as the test seam.
func NewClientWithBaseURL(accessToken string, baseURL string) (*Client, error) {
	client, clientError := NewClient(accessToken)
	if clientError != nil {
		return nil, clientError
	}

	parsedBaseURL, parseError := url.Parse(baseURL)
	if parseError != nil {
		return nil, parseError
	}
	if !strings.HasSuffix(parsedBaseURL.Path, repositoryIdentifierSeparatorConstant) {
		parsedBaseURL.Path += repositoryIdentifierSeparatorConstant
	}
	client.restClient.BaseURL = parsedBaseURL
	return client, nil
}

// ParseRepositoryIdentifier splits an owner/name identifier.
func ParseRepositoryIdentifier(identifier string) (string, string, error) {
	identifierSegments := strings.Split(strings.TrimSpace(identifier), repositoryIdentifierSeparatorConstant)
	if len(identifierSegments) != 2 || len(identifierSegments[0]) == 0 || len(identifierSegments[1]) == 0 {
		return "", "", InvalidRepositoryIdentifierError{Identifier: identifier}
	}
	return identifierSegments[0], identifierSegments[1], nil
}

// ResolveRepository fetches repository metadata for an owner/name identifier.
func (client *Client) ResolveRepository(executionContext context.Context, identifier string) (Repository, error) {
	ownerName, repositoryName, identifierError := ParseRepositoryIdentifier(identifier)
	if identifierError != nil {
		return Repository{}, identifierError
	}

	resolvedRepository, _, resolveError := client.restClient.Repositories.Get(executionContext, ownerName, repositoryName)
	if resolveError != nil {
		return Repository{}, resolveError
	}

	return Repository{
		Owner:         ownerName,
		Name:          resolvedRepository.GetName(),
		HTMLURL:       resolvedRepository.GetHTMLURL(),
		SSHURL:        resolvedRepository.GetSSHURL(),
		CloneURL:      resolvedRepository.GetCloneURL(),
		DefaultBranch: resolvedRepository.GetDefaultBranch(),
	}, nil
}

// AuthenticatedUser returns the login of the credential's user.
func (client *Client) AuthenticatedUser(executionContext context.Context) (string, error) {
	authenticatedUser, _, userError := client.restClient.Users.Get(executionContext, authenticatedUserSelfReferenceConstant)
	if userError != nil {
		return "", userError
	}
	return authenticatedUser.GetLogin(), nil
}

// ListOpenIssues returns every open issue of the repository.
func (client *Client) ListOpenIssues(executionContext context.Context, repository Repository) ([]Issue, error) {
	listOptions := &gh.IssueListByRepoOptions{
		State:       issueStateOpenConstant,
		ListOptions: gh.ListOptions{PerPage: issueListPageSizeConstant},
	}

	var openIssues []Issue
	for {
		issuePage, pageResponse, listError := client.restClient.Issues.ListByRepo(executionContext, repository.Owner, repository.Name, listOptions)
		if listError != nil {
			return nil, listError
		}
		for _, listedIssue := range issuePage {
			openIssues = append(openIssues, Issue{
				Number:  listedIssue.GetNumber(),
				Title:   listedIssue.GetTitle(),
				HTMLURL: listedIssue.GetHTMLURL(),
			})
		}
		if pageResponse.NextPage == 0 {
			break
		}
		listOptions.Page = pageResponse.NextPage
	}

	return openIssues, nil
}

// CreateIssue files a new issue on the repository.
func (client *Client) CreateIssue(executionContext context.Context, repository Repository, request IssueRequest) (Issue, error) {
	issueRequest := &gh.IssueRequest{
		Title: gh.Ptr(request.Title),
		Body:  gh.Ptr(request.Body),
	}
	if len(request.Assignees) > 0 {
		issueRequest.Assignees = &request.Assignees
	}

	createdIssue, _, createError := client.restClient.Issues.Create(executionContext, repository.Owner, repository.Name, issueRequest)
	if createError != nil {
		return Issue{}, createError
	}

	return Issue{
		Number:  createdIssue.GetNumber(),
		Title:   createdIssue.GetTitle(),
		HTMLURL: createdIssue.GetHTMLURL(),
	}, nil
}
