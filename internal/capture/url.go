package capture

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const unsafeURLChars = "<>\"'%{}|\\^~[]`"

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// ValidateURL normalizes raw into an absolute http(s) URL. Input that does
// not start with "<scheme>://" gets an http:// prefix before parsing, so a
// "://" inside the path or query does not count as a scheme.
func ValidateURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: url cannot be empty", ErrInvalidURL)
	}
	candidate := raw
	if !schemePrefix.MatchString(candidate) {
		candidate = "http://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not properly formatted: %v", ErrInvalidURL, candidate, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q must include a scheme and host", ErrInvalidURL, candidate)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q, only http and https are allowed", ErrInvalidURL, parsed.Scheme)
	}
	if i := strings.IndexAny(candidate, unsafeURLChars); i >= 0 {
		return "", fmt.Errorf("%w: contains unsafe character %q", ErrInvalidURL, candidate[i])
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: host cannot be empty in %q", ErrInvalidURL, candidate)
	}
	return candidate, nil
}
