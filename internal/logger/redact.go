package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// credentialPatterns each capture the label to keep in group 1 and match the
// secret after it.
var credentialPatterns = []*regexp.Regexp{
	// ANTHROPIC_API_KEY and X_BEARER_TOKEN echoed from config or env dumps
	regexp.MustCompile(`(?i)(anthropic_api_key["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(x_bearer_token["'\s:=]+)\S+`),
	// any other *_token / *_secret field, e.g. from the _FILE loader
	regexp.MustCompile(`(?i)([a-z0-9]+_(?:token|secret)["'\s:=]+)[^\s",]+`),
	regexp.MustCompile(`(?i)(api[_-]?key["'\s:=]+)[A-Za-z0-9\-_]{16,}`),
	// Anthropic keys inside error bodies or debug dumps
	regexp.MustCompile(`()sk-ant-[A-Za-z0-9\-_]+`),
	// the X publisher's Authorization header
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.%]+`),
	// the generator's x-api-key header
	regexp.MustCompile(`(?i)(X-Api-Key["'\s:=]+)\S+`),
}

var replacement = []byte("${1}" + redacted)

// RedactWriter masks generator and publisher credentials in log lines
// before they reach the underlying writer.
type RedactWriter struct {
	w        io.Writer
	patterns []*regexp.Regexp
}

// NewRedactWriter wraps w with the credential patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{w: w, patterns: credentialPatterns}
}

// Write redacts p and forwards it. It reports len(p) on success so zerolog
// never sees a short write when redaction changed the length.
func (r *RedactWriter) Write(p []byte) (int, error) {
	line := p
	for _, re := range r.patterns {
		line = re.ReplaceAll(line, replacement)
	}
	if _, err := r.w.Write(line); err != nil {
		return 0, err
	}
	return len(p), nil
}
