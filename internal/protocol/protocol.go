// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
)

// MaxRequestSize caps the bytes read for a single request.
const MaxRequestSize = 128 << 10

// Actions sent by CRIU action scripts. The coordinator treats every action
// other than the add-dependencies ones as an opaque phase name.
const (
	ActionPreDump       = "pre-dump"
	ActionPostDump      = "post-dump"
	ActionPreRestore    = "pre-restore"
	ActionPostRestore   = "post-restore"
	ActionNetworkLock   = "network-lock"
	ActionNetworkUnlock = "network-unlock"
	ActionPreStream     = "pre-stream"
	ActionPostStream    = "post-stream"
	ActionAddDeps       = "add-dependencies"
	ActionAddDepsAlt    = "add_dependencies"
)

// ErrMalformedRequest is the sentinel error wrapped by MalformedRequestError.
var ErrMalformedRequest = errors.New("malformed request")

type (
	// Request is the JSON object a client sends.
	Request struct {
		ID     string `json:"id"`
		Action string `json:"action"`
		// Dependencies is a colon-separated string for phase actions and an
		// object of entity -> dependencies for add-dependencies.
		Dependencies json.RawMessage `json:"dependencies,omitempty"`
		ImagesDir    string          `json:"images_dir,omitempty"`
		Stream       bool            `json:"stream,omitempty"`
	}

	// Kind distinguishes phase arrivals from registry seeding.
	Kind int

	// Message is a validated request.
	Message struct {
		Kind      Kind
		Arrival   rendezvous.Arrival
		Seed      map[rendezvous.EntityID][]rendezvous.EntityID
		ImagesDir string
		Stream    bool
	}

	// MalformedRequestError describes why a request was rejected.
	MalformedRequestError struct {
		Reason string
		Err    error
	}
)

const (
	// KindPhase is an arrival at a phase barrier.
	KindPhase Kind = iota
	// KindSeed is an add-dependencies request.
	KindSeed
)

// Error implements the error interface.
func (e *MalformedRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed request: %s: %v", e.Reason, e.Err)
	}
	return "malformed request: " + e.Reason
}

// Unwrap returns ErrMalformedRequest and the underlying cause.
func (e *MalformedRequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedRequest, e.Err}
	}
	return []error{ErrMalformedRequest}
}

func malformed(reason string, err error) error {
	return &MalformedRequestError{Reason: reason, Err: err}
}

// IsAddDependencies reports whether action seeds the registry.
func IsAddDependencies(action string) bool {
	return action == ActionAddDeps || action == ActionAddDepsAlt
}

// Decode reads exactly one JSON request from r, reading at most
// MaxRequestSize bytes, and validates it.
func Decode(r io.Reader) (Message, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxRequestSize))
	var req Request
	if err := dec.Decode(&req); err != nil {
		return Message{}, malformed("invalid JSON", err)
	}
	return req.Parse()
}

// Parse validates the request and converts it into a Message.
func (req Request) Parse() (Message, error) {
	if IsAddDependencies(req.Action) {
		seed, err := parseSeed(req.Dependencies)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindSeed, Seed: seed, ImagesDir: req.ImagesDir}, nil
	}

	arrival := rendezvous.Arrival{ID: rendezvous.EntityID(req.ID), Phase: rendezvous.Phase(req.Action)}
	if len(req.Dependencies) > 0 && !bytes.Equal(req.Dependencies, []byte("null")) {
		var raw string
		if err := json.Unmarshal(req.Dependencies, &raw); err != nil {
			return Message{}, malformed("dependencies must be a colon-separated string", err)
		}
		deps, err := rendezvous.ParseDependencies(raw)
		if err != nil {
			return Message{}, malformed("invalid dependency list", err)
		}
		arrival.Dependencies = deps
	}
	if err := arrival.Validate(); err != nil {
		return Message{}, malformed("invalid arrival", err)
	}
	return Message{Kind: KindPhase, Arrival: arrival, ImagesDir: req.ImagesDir, Stream: req.Stream}, nil
}

// parseSeed accepts {"a":["b","c"]} as well as {"a":"b:c"}.
func parseSeed(raw json.RawMessage) (map[rendezvous.EntityID][]rendezvous.EntityID, error) {
	if len(raw) == 0 {
		return nil, malformed("add-dependencies requires a dependency map", nil)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, malformed("dependencies must be an object", err)
	}

	seed := make(map[rendezvous.EntityID][]rendezvous.EntityID, len(entries))
	for key, value := range entries {
		id := rendezvous.EntityID(key)
		if err := id.Validate(); err != nil {
			return nil, malformed("invalid entity in dependency map", err)
		}

		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			var joined string
			if err := json.Unmarshal(value, &joined); err != nil {
				return nil, malformed(fmt.Sprintf("dependencies of %q must be a list or a string", key), err)
			}
			list = strings.Split(joined, rendezvous.DependencySeparator)
		}

		deps := make([]rendezvous.EntityID, 0, len(list))
		for _, d := range list {
			if d == "" {
				continue
			}
			dep := rendezvous.EntityID(d)
			if err := dep.Validate(); err != nil {
				return nil, malformed(fmt.Sprintf("invalid dependency of %q", key), err)
			}
			deps = append(deps, dep)
		}
		seed[id] = deps
	}
	return seed, nil
}

// NewPhaseRequest builds the request for an arrival at action.
func NewPhaseRequest(id, action string, deps []string, imagesDir string, stream bool) (Request, error) {
	raw, err := json.Marshal(strings.Join(deps, rendezvous.DependencySeparator))
	if err != nil {
		return Request{}, err
	}
	return Request{ID: id, Action: action, Dependencies: raw, ImagesDir: imagesDir, Stream: stream}, nil
}

// NewSeedRequest builds an add-dependencies request.
func NewSeedRequest(seed map[string][]string) (Request, error) {
	normalized := make(map[string][]string, len(seed))
	for id, deps := range seed {
		normalized[id] = slices.Clone(deps)
		if normalized[id] == nil {
			normalized[id] = []string{}
		}
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return Request{}, err
	}
	return Request{Action: ActionAddDeps, Dependencies: raw}, nil
}

// Encode writes req as a single JSON value.
func Encode(w io.Writer, req Request) error {
	return json.NewEncoder(w).Encode(req)
}
