package credentials

import (
	"fmt"
	"sync"
)

// Store maps remote URLs to credentials.
//
// A Store is passed explicitly to every operation that needs credentials; it
// is safe for concurrent use. Bindings keep their first registration order,
// which is the order of the scheme/host/port fallback scan.
type Store struct {
	defaultMu sync.RWMutex
	def       Credential

	mu       sync.RWMutex
	order    []string
	bindings map[string]Credential
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		bindings: make(map[string]Credential),
	}
}

// SetDefault replaces the default credential. A nil credential removes it.
func (s *Store) SetDefault(c Credential) {
	s.defaultMu.Lock()
	defer s.defaultMu.Unlock()
	s.def = c
}

// Default returns the current default credential, or nil.
//
//nolint:ireturn // credentials are opaque caller types
func (s *Store) Default() Credential {
	s.defaultMu.RLock()
	defer s.defaultMu.RUnlock()
	return s.def
}

// Bind registers c for the normalized form of rawURL, replacing any previous
// binding under the same key.
func (s *Store) Bind(rawURL string, c Credential) {
	key := Normalize(rawURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bindings == nil {
		s.bindings = make(map[string]Credential)
	}
	if _, exists := s.bindings[key]; !exists {
		s.order = append(s.order, key)
	}
	s.bindings[key] = c
}

// ClearAll removes the default credential and every binding.
func (s *Store) ClearAll() {
	s.defaultMu.Lock()
	s.def = nil
	s.defaultMu.Unlock()

	s.mu.Lock()
	s.order = nil
	s.bindings = make(map[string]Credential)
	s.mu.Unlock()
}

// Len returns the number of URL-scoped bindings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// URLs returns the normalized keys of all bindings in registration order.
func (s *Store) URLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Supports reports whether every requested item can be filled by at least one
// registered credential. Different items may be satisfied by different credentials.
func (s *Store) Supports(items ...Item) bool {
	all := s.snapshot()
	for _, item := range items {
		supported := false
		for _, c := range all {
			if item.accepts(c) {
				supported = true
				break
			}
		}
		if !supported {
			return false
		}
	}
	return true
}

// Resolve finds the credential for rawURL and fills items from it.
//
// Resolution order is: exact normalized match, then the default credential,
// then the first binding (in registration order) that targets the same
// scheme, host and port. When nothing matches the error wraps
// ErrCredentialNotFound. When the credential cannot fill an item the error is
// an *UnsupportedItemError.
//
//nolint:ireturn // credentials are opaque caller types
func (s *Store) Resolve(rawURL string, items ...Item) (Credential, error) {
	c := s.lookup(rawURL)
	if c == nil {
		return nil, fmt.Errorf("%w for %s", ErrCredentialNotFound, redact(rawURL))
	}

	for _, item := range items {
		if !item.fill(c) {
			return c, &UnsupportedItemError{CredentialID: c.ID(), Item: item.Name()}
		}
	}
	return c, nil
}

//nolint:ireturn // credentials are opaque caller types
func (s *Store) lookup(rawURL string) Credential {
	key := Normalize(rawURL)

	s.mu.RLock()
	c, ok := s.bindings[key]
	s.mu.RUnlock()
	if ok {
		return c
	}

	if def := s.Default(); def != nil {
		return def
	}

	target, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.order {
		ep, err := ParseEndpoint(k)
		if err != nil {
			continue
		}
		if ep.SameRemote(target) {
			return s.bindings[k]
		}
	}
	return nil
}

// snapshot returns the default credential followed by every bound credential.
func (s *Store) snapshot() []Credential {
	var all []Credential
	if def := s.Default(); def != nil {
		all = append(all, def)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.order {
		all = append(all, s.bindings[k])
	}
	return all
}
