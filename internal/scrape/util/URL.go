package util

import (
	"net/url"
	"strings"

	"profilescrape-engine/internal/domain"
)

// CanonicalProfileURL lowercases scheme and host and drops query, fragment
// and trailing slash so the same profile always maps to one key.
func CanonicalProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// IsProfileURL reports whether raw points at a member profile page.
func IsProfileURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return strings.Contains(strings.ToLower(u.Host), "linkedin.com") && strings.HasPrefix(u.Path, "/in/")
}

// DetailSection returns the section a detail-page URL presents, if any.
func DetailSection(raw string) (domain.Section, bool) {
	switch {
	case strings.Contains(raw, "/details/experience"):
		return domain.SectionExperience, true
	case strings.Contains(raw, "/details/education"):
		return domain.SectionEducation, true
	}
	return "", false
}

// Resolve makes href absolute against base. Unparseable input is returned
// unchanged.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
