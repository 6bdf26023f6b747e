package updater

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// EmbeddedToken is a read-only release token baked in at build time with
// -ldflags "-X github.com/webcorder/webcorder/internal/updater.EmbeddedToken=...".
var EmbeddedToken = ""

// TokenConfigFile is read from the WebCorder config directory
const TokenConfigFile = "github_config.json"

// TokenSource names where a token was found
type TokenSource string

const (
	SourceNone     TokenSource = "none"
	SourceEnv      TokenSource = "environment variable GITHUB_TOKEN"
	SourceFile     TokenSource = "config file"
	SourceEmbedded TokenSource = "built-in token"
)

// TokenLookup abstracts the places a token can come from so tests do not
// depend on the real environment.
type TokenLookup struct {
	Getenv    func(string) string
	ConfigDir string
	Embedded  string
}

// DefaultTokenLookup reads the process environment, configDir and EmbeddedToken
func DefaultTokenLookup(configDir string) TokenLookup {
	return TokenLookup{Getenv: os.Getenv, ConfigDir: configDir, Embedded: EmbeddedToken}
}

// ResolveToken returns the first non-empty token in priority order:
// GITHUB_TOKEN, then github_config.json, then the embedded token.
func ResolveToken(lookup TokenLookup) (string, TokenSource) {
	if lookup.Getenv != nil {
		if token := strings.TrimSpace(lookup.Getenv("GITHUB_TOKEN")); token != "" {
			return token, SourceEnv
		}
	}

	if token := fileToken(lookup.ConfigDir); token != "" {
		return token, SourceFile
	}

	if token := strings.TrimSpace(lookup.Embedded); token != "" {
		return token, SourceEmbedded
	}

	return "", SourceNone
}

func fileToken(dir string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, TokenConfigFile))
	if err != nil {
		return ""
	}
	var cfg struct {
		GitHubToken string `json:"github_token"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return strings.TrimSpace(cfg.GitHubToken)
}
