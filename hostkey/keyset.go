package hostkey

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
)

const markerRevoked = "revoked"

type keyEntry struct {
	marker   string
	patterns []string
	key      ssh.PublicKey
}

// keySet is an in-memory known-hosts database.
type keySet struct {
	entries []keyEntry
}

// parseKeySet parses OpenSSH known-hosts data. Blank lines and comments are skipped.
func parseKeySet(data []byte) (*keySet, error) {
	ks := &keySet{}
	rest := data
	for {
		marker, hosts, key, _, next, err := ssh.ParseKnownHosts(rest)
		if errors.Is(err, io.EOF) {
			return ks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid known hosts data: %w", err)
		}
		ks.entries = append(ks.entries, keyEntry{marker: marker, patterns: hosts, key: key})
		rest = next
	}
}

type lookupResult int

const (
	hostUnknown lookupResult = iota
	hostKeyMatch
	hostKeyChanged
	hostKeyRevoked
)

// lookup classifies key for the given "host:port" address.
func (ks *keySet) lookup(hostname string, key ssh.PublicKey) lookupResult {
	addr := knownhosts.Normalize(hostname)
	wire := key.Marshal()

	known := false
	for _, e := range ks.entries {
		if !matchPatterns(e.patterns, addr) {
			continue
		}
		sameKey := bytes.Equal(e.key.Marshal(), wire)
		switch e.marker {
		case markerRevoked:
			if sameKey {
				return hostKeyRevoked
			}
		case "":
			if sameKey {
				return hostKeyMatch
			}
			known = true
		}
	}
	if known {
		return hostKeyChanged
	}
	return hostUnknown
}

// algorithms lists the host key algorithms of the trusted keys recorded for
// the "host:port" address, in file order.
func (ks *keySet) algorithms(hostname string) []string {
	addr := knownhosts.Normalize(hostname)
	seen := map[string]bool{}
	var algos []string
	for _, e := range ks.entries {
		if e.marker != "" || !matchPatterns(e.patterns, addr) {
			continue
		}
		for _, algo := range keyAlgorithms(e.key.Type()) {
			if !seen[algo] {
				seen[algo] = true
				algos = append(algos, algo)
			}
		}
	}
	return algos
}

// matchPatterns applies OpenSSH host pattern rules: any positive match selects
// the entry unless a negated ("!") pattern also matches.
func matchPatterns(patterns []string, addr string) bool {
	matched := false
	for _, p := range patterns {
		negated := false
		if len(p) > 0 && p[0] == '!' {
			negated = true
			p = p[1:]
		}
		if !matchPattern(p, addr) {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}

func matchPattern(pattern, addr string) bool {
	if IsHashed(pattern) {
		return MatchHashedHost(pattern, addr)
	}
	return wildcardMatch(pattern, addr)
}

// wildcardMatch implements the "*" and "?" globbing of OpenSSH host patterns.
// Brackets are literal, unlike path.Match.
func wildcardMatch(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for i := len(s); i >= 0; i-- {
				if wildcardMatch(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
		default:
			if len(s) == 0 || lower(pattern[0]) != lower(s[0]) {
				return false
			}
		}
		pattern, s = pattern[1:], s[1:]
	}
	return len(s) == 0
}

func lower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
