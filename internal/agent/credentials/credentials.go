// Package credentials resolves the environment handed to agent child
// processes. Credentials can live in the server's environment directly or
// behind a deployment prefix; prefixed values are promoted to their bare
// names so the agent binary sees the variables it expects.
package credentials

import (
	"os"
	"strings"
)

// DefaultPrefix is the deployment prefix checked for namespaced credentials.
const DefaultPrefix = "SYSTEMPROMPT_"

// knownCredentialKeys are the variables promoted from the prefixed namespace
// and reported by Available.
var knownCredentialKeys = []string{
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_AUTH_TOKEN",
	"CLAUDE_CODE_OAUTH_TOKEN",
	"GITHUB_TOKEN",
	"GITLAB_TOKEN",
	"NPM_TOKEN",
}

// Resolver looks up credentials in the process environment.
type Resolver struct {
	prefix string
}

// NewResolver creates a resolver. An empty prefix uses DefaultPrefix.
func NewResolver(prefix string) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{prefix: prefix}
}

// Resolve returns the credential value for key, trying the bare name first
// and then the prefixed one.
func (r *Resolver) Resolve(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	if value := os.Getenv(r.prefix + key); value != "" {
		return value, true
	}
	return "", false
}

// Available lists the credential keys the resolver can currently satisfy.
// Known keys are checked explicitly; the rest of the environment is scanned
// for credential-shaped names.
func (r *Resolver) Available() []string {
	seen := make(map[string]bool)
	available := make([]string, 0)

	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			available = append(available, key)
		}
	}

	for _, key := range knownCredentialKeys {
		if _, ok := r.Resolve(key); ok {
			add(key)
		}
	}

	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		key := strings.TrimPrefix(parts[0], r.prefix)
		lower := strings.ToLower(key)
		if strings.HasSuffix(lower, "_api_key") ||
			strings.HasSuffix(lower, "_token") ||
			strings.HasSuffix(lower, "_secret") {
			add(key)
		}
	}

	return available
}

// Environ builds the child process environment: the server's own environment
// plus prefixed credentials promoted to their bare names where the bare name
// is not already set.
func (r *Resolver) Environ() []string {
	env := os.Environ()

	present := make(map[string]bool, len(env))
	for _, entry := range env {
		if i := strings.IndexByte(entry, '='); i > 0 {
			present[entry[:i]] = true
		}
	}

	for _, key := range knownCredentialKeys {
		if present[key] {
			continue
		}
		if value := os.Getenv(r.prefix + key); value != "" {
			env = append(env, key+"="+value)
		}
	}

	return env
}
