package util

import (
	"errors"
	"net/url"
	"strings"
)

var ErrProofURL = errors.New("payment proof must be an https URL on an allowed image host")

// ValidateProofURL accepts https URLs whose host equals an allowed host or is a
// subdomain of one. It returns the URL re-encoded.
func ValidateProofURL(raw string, allowedHosts []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.User != nil {
		return "", ErrProofURL
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrProofURL
	}
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return u.String(), nil
		}
	}
	return "", ErrProofURL
}
