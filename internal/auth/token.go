// Package auth is the boundary to the external login component. The
// core only ever consumes a bearer token; how it was obtained (OAuth
// device flow, personal access token) is someone else's problem.
package auth

import "os"

// TokenSource supplies the current bearer token. An empty token means
// unauthenticated; requests are still issued since several endpoints
// are public.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token, used by tests and by callers that
// already hold a token from the login component.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// EnvToken reads the token from the environment on every call, so a
// login that happens mid-process is picked up without rewiring.
type EnvToken struct{}

func (EnvToken) Token() string {
	if tok := os.Getenv("SIMIMAGER_GITHUB_TOKEN"); tok != "" {
		return tok
	}
	return os.Getenv("GITHUB_TOKEN")
}

// IsAuthenticated reports whether ts currently holds a token.
func IsAuthenticated(ts TokenSource) bool {
	return ts != nil && ts.Token() != ""
}
