package config

import (
	"fmt"
	"net/url"
	"strings"
)

// SpreadsheetPrefix is the URL prefix of a Google Sheets document.
const SpreadsheetPrefix = "https://docs.google.com/spreadsheets/d/"

// ValidateURL checks that raw is an absolute http(s) URL with a host and,
// when requirePrefix is set, that it starts with requirePrefix.
func ValidateURL(raw, requirePrefix string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q: missing host", raw)
	}
	if requirePrefix != "" && !strings.HasPrefix(raw, requirePrefix) {
		return fmt.Errorf("url %q: must start with %s", raw, requirePrefix)
	}
	return nil
}
