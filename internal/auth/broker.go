// Package auth resolves tool identity requirements before dispatch. The
// broker checks what the host already has (CLI credentials, env vars, OAuth
// token files) and, when something is missing, answers with an operator
// instruction instead of failing. It never reads secrets out of task text.
package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Pattern names how an identity is verified.
type Pattern string

const (
	// PatternHost inherits CLI credentials already configured on the host.
	PatternHost Pattern = "host"
	// PatternEnv reads named environment variables, typically via .env.
	PatternEnv Pattern = "env"
	// PatternOAuth checks for a stored token file.
	PatternOAuth Pattern = "oauth"
)

// Status is the broker's answer for one identity. When Ready is false,
// Prompt tells the operator what is missing and Hint carries the command or
// URL that unblocks it.
type Status struct {
	Identity string
	Pattern  Pattern
	Ready    bool
	Prompt   string
	Hint     string
}

const defaultProbeTimeout = 5 * time.Second

// ProbeFunc verifies host credentials by running a non-mutating CLI
// identity check.
type ProbeFunc func(ctx context.Context, name string, args ...string) error

// Broker verifies identities. Safe for concurrent use; it holds no mutable
// state between calls.
type Broker struct {
	home         string
	secretsDir   string
	lookupEnv    func(string) string
	probe        ProbeFunc
	probeTimeout time.Duration
	logger       *slog.Logger
	envAliases   map[string][]string
}

// Option configures a Broker.
type Option func(*Broker)

// WithHome overrides the home directory used for credential file probes.
func WithHome(dir string) Option {
	return func(b *Broker) { b.home = dir }
}

// WithSecretsDir sets where OAuth token files live (default ".secrets").
func WithSecretsDir(dir string) Option {
	return func(b *Broker) { b.secretsDir = dir }
}

// WithEnvLookup overrides environment variable resolution (tests).
func WithEnvLookup(lookup func(string) string) Option {
	return func(b *Broker) { b.lookupEnv = lookup }
}

// WithProbe overrides the CLI identity check (tests).
func WithProbe(probe ProbeFunc) Option {
	return func(b *Broker) { b.probe = probe }
}

// WithEnvAlias maps an identity to explicit env var names checked before
// the derived SERVICE_API_KEY family.
func WithEnvAlias(identity string, vars ...string) Option {
	return func(b *Broker) {
		b.envAliases[strings.ToLower(identity)] = append(b.envAliases[strings.ToLower(identity)], vars...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// NewBroker builds a broker. Defaults: the real home directory, a .secrets
// token dir, os.Getenv, and an exec-based probe with a 5s timeout.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		secretsDir:   ".secrets",
		lookupEnv:    os.Getenv,
		probeTimeout: defaultProbeTimeout,
		logger:       slog.Default(),
		envAliases: map[string][]string{
			"home_assistant": {"HA_TOKEN", "HOME_ASSISTANT_TOKEN"},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			b.home = home
		}
	}
	if b.probe == nil {
		b.probe = b.execProbe
	}
	return b
}

// Require verifies one identity and reports Ready or the operator action
// that would make it ready.
func (b *Broker) Require(ctx context.Context, identity string) Status {
	name := strings.ToLower(strings.TrimSpace(identity))
	if name == "" {
		return Status{Identity: identity, Ready: true}
	}

	pattern := detectPattern(name)
	st := Status{Identity: name, Pattern: pattern}

	switch pattern {
	case PatternHost:
		st = b.checkHost(ctx, name, st)
	case PatternOAuth:
		st = b.checkOAuth(name, st)
	default:
		st = b.checkEnv(name, st)
	}

	if !st.Ready {
		b.logger.Info("identity not ready",
			"identity", name,
			"pattern", string(pattern),
			"hint", st.Hint,
		)
	}
	return st
}

// detectPattern picks the verification pattern from the identity name.
// CLI-backed services inherit from the host, user-data services use OAuth,
// everything else is an env vault lookup.
func detectPattern(name string) Pattern {
	for _, svc := range []string{"aws", "eks", "kubernetes", "k8s", "kubectl", "terraform", "gcloud", "azure"} {
		if strings.Contains(name, svc) {
			return PatternHost
		}
	}
	for _, svc := range []string{"gmail", "google", "calendar", "spotify", "github", "oauth"} {
		if strings.Contains(name, svc) {
			return PatternOAuth
		}
	}
	return PatternEnv
}

func (b *Broker) checkHost(ctx context.Context, name string, st Status) Status {
	switch {
	case strings.Contains(name, "aws"):
		if b.fileExists(".aws", "credentials") || b.fileExists(".aws", "config") {
			if b.probe(ctx, "aws", "sts", "get-caller-identity") == nil {
				st.Ready = true
				return st
			}
		}
		st.Hint = "aws configure"
		st.Prompt = "I need AWS access. Please run 'aws configure' (or 'aws sso login'), then tell me 'ready'."
	case strings.Contains(name, "kubernetes"), strings.Contains(name, "k8s"), strings.Contains(name, "kubectl"), strings.Contains(name, "eks"):
		if b.fileExists(".kube", "config") {
			if b.probe(ctx, "kubectl", "cluster-info") == nil {
				st.Ready = true
				return st
			}
		}
		st.Hint = "kubectl config"
		st.Prompt = "I need Kubernetes access. Please configure kubectl (e.g. 'aws eks update-kubeconfig --name <cluster>'), then tell me 'ready'."
	case strings.Contains(name, "terraform"):
		// Terraform rides on provider credentials.
		if aws := b.checkHost(ctx, "aws", Status{}); aws.Ready {
			st.Ready = true
			return st
		}
		st.Hint = "aws configure"
		st.Prompt = "I need Terraform provider credentials. Please configure your cloud CLI (e.g. 'aws configure'), then tell me 'ready'."
	default:
		st.Hint = "configure"
		st.Prompt = fmt.Sprintf("I need %s access. Please configure the CLI credentials on this host, then tell me 'ready'.", name)
	}
	return st
}

func (b *Broker) checkEnv(name string, st Status) Status {
	for _, v := range b.envVarsFor(name) {
		if strings.TrimSpace(b.lookupEnv(v)) != "" {
			st.Ready = true
			return st
		}
	}
	primary := envVarName(name) + "_API_KEY"
	st.Hint = primary
	st.Prompt = fmt.Sprintf(
		"I need %s credentials. Please add them to the .env file (e.g. %s=...), then tell me 'ready'.",
		name, primary,
	)
	return st
}

func (b *Broker) checkOAuth(name string, st Status) Status {
	token := filepath.Join(b.secretsDir, name+"_token.json")
	if info, err := os.Stat(token); err == nil && !info.IsDir() {
		st.Ready = true
		return st
	}
	url := authorizeURL(name)
	st.Hint = url
	st.Prompt = fmt.Sprintf(
		"I need %s access. Please open this authorization link, grant read-only access, then tell me 'ready':\n  %s",
		name, url,
	)
	return st
}

// envVarsFor lists the variables that satisfy an env-vault identity:
// explicit aliases first, then the derived SERVICE_* family.
func (b *Broker) envVarsFor(name string) []string {
	vars := append([]string(nil), b.envAliases[name]...)
	upper := envVarName(name)
	for _, suffix := range []string{"_API_KEY", "_TOKEN", "_PASSWORD", "_USERNAME", "_USER"} {
		vars = append(vars, upper+suffix)
	}
	return vars
}

func envVarName(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.ReplaceAll(upper, "-", "_")
	return strings.ReplaceAll(upper, " ", "_")
}

func authorizeURL(name string) string {
	switch {
	case strings.Contains(name, "gmail"), strings.Contains(name, "google"), strings.Contains(name, "calendar"):
		return "https://accounts.google.com/o/oauth2/auth"
	case strings.Contains(name, "spotify"):
		return "https://accounts.spotify.com/authorize"
	case strings.Contains(name, "github"):
		return "https://github.com/login/oauth/authorize"
	default:
		return fmt.Sprintf("https://oauth.%s.com/authorize", name)
	}
}

func (b *Broker) fileExists(parts ...string) bool {
	if b.home == "" {
		return false
	}
	path := filepath.Join(append([]string{b.home}, parts...)...)
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (b *Broker) execProbe(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}
