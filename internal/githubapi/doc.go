// Package githubapi wraps the GitHub REST API operations upsync needs:
// resolving repository metadata, identifying the authenticated user, listing
// open issues, and filing new ones. It is a thin facade over
// google/go-github so the reconciliation and reporting layers can depend on
// a narrow, fake-friendly interface.
package githubapi
