package githubauth

import (
	"os"
	"strings"
)

// Environment variable names used for access-token fallback resolution.
const (
	EnvGitHubAccessToken = "GITHUB_ACCESS_TOKEN"
	EnvGitHubCLIToken    = "GH_TOKEN"
	EnvGitHubToken       = "GITHUB_TOKEN"
)

var tokenPreference = []string{
	EnvGitHubAccessToken,
	EnvGitHubCLIToken,
	EnvGitHubToken,
}

// ResolveToken returns the configured credential when present and otherwise
// the first non-empty token observed in the preferred environment variables.
func ResolveToken(configuredCredential string) (string, bool) {
	trimmedCredential := strings.TrimSpace(configuredCredential)
	if len(trimmedCredential) > 0 {
		return trimmedCredential, true
	}

	for _, environmentKey := range tokenPreference {
		if environmentValue, exists := os.LookupEnv(environmentKey); exists {
			environmentValue = strings.TrimSpace(environmentValue)
			if len(environmentValue) > 0 {
				return environmentValue, true
			}
		}
	}
	return "", false
}
