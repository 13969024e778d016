package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"text/template"
)

// URLData holds variables available in the feed URL template.
type URLData struct {
	Account string // account handle, path-escaped
}

// URLBuilder renders the per-account feed URL from a Go template.
type URLBuilder struct {
	tmpl *template.Template
}

// NewURLBuilder parses and validates the feed URL template.
func NewURLBuilder(tmpl string) (*URLBuilder, error) {
	t, err := template.New("feed_url").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("FEED_URL_TEMPLATE: %w", err)
	}
	b := &URLBuilder{tmpl: t}
	// Render once so references to unknown fields fail at startup.
	if _, err := b.URL("probe"); err != nil {
		return nil, fmt.Errorf("FEED_URL_TEMPLATE: %w", err)
	}
	return b, nil
}

// URL renders the feed URL for account.
func (b *URLBuilder) URL(account string) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, URLData{Account: url.PathEscape(account)}); err != nil {
		return "", fmt.Errorf("render template %q: %w", b.tmpl.Name(), err)
	}
	return buf.String(), nil
}
