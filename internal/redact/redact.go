// Package redact provides utilities for redacting sensitive information from strings
// before they are logged, returned in error responses or persisted as a job's
// error detail. It prevents the accidental leakage of API keys, connection
// strings, tokens and other secrets that might be included in error messages.
package redact

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

// MaxDetailLength bounds the length of a redacted error detail.
const MaxDetailLength = 1024

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// Precompiled regex patterns
var (
	// Database connection strings
	dbConnRegex = regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|db|database|connection)://[^@\s]+@`)

	// Credentials and tokens
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)
	// Google API keys, as used by the Gemini API
	googleKeyRegex = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{30,}`)
	awsKeyRegex    = regexp.MustCompile(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`)
	// JWT token pattern - matches the standard three-part base64url-encoded JWT token format
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	// File paths
	unixPathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)
	winPathRegex  = regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`)

	// Stack trace fragments
	stackTraceRegex = regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`)

	// Email addresses
	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)

	// secretRules remove credentials and tokens only. They are safe to apply
	// to text that must stay readable, such as a job's error detail.
	secretRules = []rule{
		{dbConnRegex, RedactedCredentialPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{jwtTokenRegex, "[REDACTED_JWT]"},
		{googleKeyRegex, RedactedKeyPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
		{awsKeyRegex, RedactedKeyPlaceholder},
	}

	// allRules additionally remove details about the host environment and
	// are applied to anything returned to API clients.
	allRules = append(append([]rule{}, secretRules...),
		rule{stackTraceRegex, "[STACK_TRACE_REDACTED]"},
		rule{unixPathRegex, RedactedPathPlaceholder},
		rule{winPathRegex, RedactedPathPlaceholder},
		rule{emailRegex, "[REDACTED_EMAIL]"},
	)
)

func apply(rules []rule, input string) string {
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}
	return apply(allRules, input)
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

// Secrets redacts credentials and tokens but leaves the rest of the input
// intact.
func Secrets(input string) string {
	if input == "" {
		return input
	}
	return apply(secretRules, input)
}

// Redactor additionally replaces a fixed set of known secret values, such
// as the configured API keys, wherever they appear.
type Redactor struct {
	replacer *strings.Replacer
}

// minSecretLength is the shortest value a Redactor will replace. Shorter
// values would match ordinary text.
const minSecretLength = 6

// New returns a Redactor for the given secret values.
func New(secrets ...string) *Redactor {
	values := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= minSecretLength {
			values = append(values, s)
		}
	}
	// Longest first so that a secret containing another is replaced whole.
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	pairs := make([]string, 0, 2*len(values))
	for _, v := range values {
		pairs = append(pairs, v, RedactedKeyPlaceholder)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// String removes known secrets and credential patterns from input.
func (r *Redactor) String(input string) string {
	if input == "" {
		return input
	}
	if r != nil && r.replacer != nil {
		input = r.replacer.Replace(input)
	}
	return Secrets(input)
}

// Detail renders err as a redacted, length-bounded error detail.
func (r *Redactor) Detail(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(r.String(err.Error()), MaxDetailLength)
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
