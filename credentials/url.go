package credentials

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Normalize returns the comparison key for a remote URL: trailing "/" and
// ".git" suffixes are removed. The key is only used for equality and is never
// dialed.
//
// Normalize is idempotent, and Normalize(u+"/") == Normalize(u+".git") == Normalize(u).
func Normalize(rawURL string) string {
	key := rawURL
	for {
		trimmed := strings.TrimSuffix(key, "/")
		trimmed = strings.TrimSuffix(trimmed, ".git")
		if trimmed == key {
			return key
		}
		key = trimmed
	}
}

// Endpoint is the part of a remote URL that identifies the remote server.
type Endpoint struct {
	Scheme string
	User   string
	Host   string
	Port   int
}

// SameRemote reports whether both endpoints target the same scheme, host and port.
// The user part is ignored.
func (e Endpoint) SameRemote(o Endpoint) bool {
	return e.Scheme == o.Scheme && e.Host == o.Host && e.Port == o.Port
}

// IsSSH reports whether the endpoint is reached over SSH.
func (e Endpoint) IsSSH() bool {
	return e.Scheme == "ssh"
}

// IsHTTP reports whether the endpoint is reached over HTTP or HTTPS.
func (e Endpoint) IsHTTP() bool {
	return e.Scheme == "http" || e.Scheme == "https"
}

// Address returns host:port as used for dialing and known-hosts lookups.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
	"ssh":   22,
	"git":   9418,
}

// ParseEndpoint extracts scheme, user, host and port from a git remote URL.
// scp-like addresses ("git@host:org/repo.git") are treated as ssh on port 22.
// Missing ports are filled with the scheme default.
func ParseEndpoint(rawURL string) (Endpoint, error) {
	if ep, ok := parseSCPLike(rawURL); ok {
		return ep, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("invalid URL %q: scheme and host are required", u.Redacted())
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "git+ssh", "ssh+git":
		scheme = "ssh"
	}

	ep := Endpoint{
		Scheme: scheme,
		Host:   strings.ToLower(u.Hostname()),
		Port:   defaultPorts[scheme],
	}
	if u.User != nil {
		ep.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
		ep.Port = port
	}
	return ep, nil
}

// parseSCPLike handles "[user@]host:path" addresses, which have no scheme.
func parseSCPLike(rawURL string) (Endpoint, bool) {
	if strings.Contains(rawURL, "://") {
		return Endpoint{}, false
	}
	colon := strings.Index(rawURL, ":")
	if colon <= 0 {
		return Endpoint{}, false
	}
	hostPart := rawURL[:colon]
	if strings.Contains(hostPart, "/") {
		return Endpoint{}, false
	}

	var user string
	if at := strings.LastIndex(hostPart, "@"); at >= 0 {
		user, hostPart = hostPart[:at], hostPart[at+1:]
	}
	// A single letter is a Windows drive ("C:\repo"), not a host.
	if len(hostPart) < 2 {
		return Endpoint{}, false
	}
	return Endpoint{
		Scheme: "ssh",
		User:   user,
		Host:   strings.ToLower(hostPart),
		Port:   defaultPorts["ssh"],
	}, true
}

// redact strips any password from a URL before it is placed in an error or log line.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL
	}
	return u.Redacted()
}
