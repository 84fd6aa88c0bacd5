// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/exp/maps"
)

// DependencySeparator separates entity IDs in the wire and config form of a
// dependency list ("a:b:c").
const DependencySeparator = ":"

var (
	// ErrInvalidEntityID is the sentinel error wrapped by InvalidEntityIDError.
	ErrInvalidEntityID = errors.New("invalid entity id")
	// ErrInvalidPhase is the sentinel error wrapped by InvalidPhaseError.
	ErrInvalidPhase = errors.New("invalid phase")
)

type (
	// EntityID names a process, container or pod taking part in a group.
	EntityID string

	// Phase names a checkpoint/restore lifecycle stage ("pre-dump",
	// "network-lock", ...). The engine treats it as opaque.
	Phase string

	// InvalidEntityIDError is returned when an EntityID fails validation.
	InvalidEntityIDError struct {
		Value  EntityID
		Reason string
	}

	// InvalidPhaseError is returned when a Phase fails validation.
	InvalidPhaseError struct {
		Value  Phase
		Reason string
	}

	idSet map[EntityID]struct{}
)

// Validate rejects empty IDs, IDs with surrounding whitespace or control
// characters, and IDs containing the dependency separator.
func (id EntityID) Validate() error {
	s := string(id)
	switch {
	case s == "":
		return &InvalidEntityIDError{Value: id, Reason: "must not be empty"}
	case strings.TrimSpace(s) != s:
		return &InvalidEntityIDError{Value: id, Reason: "must not have surrounding whitespace"}
	case strings.Contains(s, DependencySeparator):
		return &InvalidEntityIDError{Value: id, Reason: fmt.Sprintf("must not contain %q", DependencySeparator)}
	case strings.IndexFunc(s, unicode.IsControl) >= 0:
		return &InvalidEntityIDError{Value: id, Reason: "must not contain control characters"}
	}
	return nil
}

// String returns the ID as a string.
func (id EntityID) String() string { return string(id) }

// Validate rejects empty phases and phases containing whitespace or
// control characters.
func (p Phase) Validate() error {
	s := string(p)
	if s == "" {
		return &InvalidPhaseError{Value: p, Reason: "must not be empty"}
	}
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return &InvalidPhaseError{Value: p, Reason: "must not contain whitespace or control characters"}
	}
	return nil
}

// String returns the phase as a string.
func (p Phase) String() string { return string(p) }

// Error implements the error interface.
func (e *InvalidEntityIDError) Error() string {
	return fmt.Sprintf("invalid entity id %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidEntityID for errors.Is() compatibility.
func (e *InvalidEntityIDError) Unwrap() error { return ErrInvalidEntityID }

// Error implements the error interface.
func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("invalid phase %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidPhase for errors.Is() compatibility.
func (e *InvalidPhaseError) Unwrap() error { return ErrInvalidPhase }

// ParseDependencies splits a colon-separated dependency list. Empty
// segments are skipped, so "" and "a::b" are accepted. Every remaining
// segment must be a valid EntityID.
func ParseDependencies(s string) ([]EntityID, error) {
	var deps []EntityID
	for part := range strings.SplitSeq(s, DependencySeparator) {
		if part == "" {
			continue
		}
		id := EntityID(part)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		deps = append(deps, id)
	}
	return deps, nil
}

// JoinDependencies renders deps in the colon-separated form.
func JoinDependencies(deps []EntityID) string {
	parts := make([]string, len(deps))
	for i, d := range deps {
		parts[i] = string(d)
	}
	return strings.Join(parts, DependencySeparator)
}

func newIDSet(ids ...EntityID) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) add(id EntityID) { s[id] = struct{}{} }

func (s idSet) has(id EntityID) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) union(o idSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

func (s idSet) clone() idSet {
	c := make(idSet, len(s))
	c.union(s)
	return c
}

func (s idSet) equal(o idSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.has(id) {
			return false
		}
	}
	return true
}

func (s idSet) subsetOf(o idSet) bool {
	for id := range s {
		if !o.has(id) {
			return false
		}
	}
	return true
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func (s idSet) sorted() []EntityID {
	return sortedKeys(s)
}

// key is the canonical closure key: sorted IDs joined by commas.
func (s idSet) key() string {
	ids := s.sorted()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
