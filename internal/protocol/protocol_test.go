// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

func TestDecodePhaseRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantDeps []rendezvous.EntityID
		wantErr  bool
	}{
		{
			name:     "colon separated dependencies",
			input:    `{"id":"web","action":"pre-dump","dependencies":"db:cache","images_dir":"/tmp/img","stream":true}`,
			wantDeps: []rendezvous.EntityID{"db", "cache"},
		},
		{
			name:  "empty dependencies",
			input: `{"id":"web","action":"post-dump","dependencies":""}`,
		},
		{
			name:  "missing dependencies",
			input: `{"id":"web","action":"post-dump"}`,
		},
		{
			name:  "unknown fields are ignored",
			input: `{"id":"web","action":"pre-restore","dependencies":"","extra":1}`,
		},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "truncated", input: `{"id":"web"`, wantErr: true},
		{name: "empty id", input: `{"id":"","action":"pre-dump","dependencies":""}`, wantErr: true},
		{name: "empty action", input: `{"id":"web","action":"","dependencies":""}`, wantErr: true},
		{name: "list instead of string", input: `{"id":"web","action":"pre-dump","dependencies":["db"]}`, wantErr: true},
		{name: "bad dependency", input: `{"id":"web","action":"pre-dump","dependencies":"db: x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := Decode(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRequest) {
					t.Errorf("error does not wrap ErrMalformedRequest: %v", err)
				}
				return
			}
			if msg.Kind != KindPhase {
				t.Errorf("Kind = %v, want KindPhase", msg.Kind)
			}
			if msg.Arrival.ID != "web" {
				t.Errorf("ID = %q, want web", msg.Arrival.ID)
			}
			if !slices.Equal(msg.Arrival.Dependencies, tt.wantDeps) {
				t.Errorf("Dependencies = %v, want %v", msg.Arrival.Dependencies, tt.wantDeps)
			}
		})
	}
}

func TestDecodeSeedRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    map[rendezvous.EntityID][]rendezvous.EntityID
		wantErr bool
	}{
		{
			name:  "lists",
			input: `{"id":"","action":"add-dependencies","dependencies":{"a":["b"],"b":["a"]}}`,
			want:  map[rendezvous.EntityID][]rendezvous.EntityID{"a": {"b"}, "b": {"a"}},
		},
		{
			name:  "underscore alias with strings",
			input: `{"action":"add_dependencies","dependencies":{"a":"b:c","c":""}}`,
			want:  map[rendezvous.EntityID][]rendezvous.EntityID{"a": {"b", "c"}, "c": {}},
		},
		{name: "missing map", input: `{"action":"add-dependencies"}`, wantErr: true},
		{name: "string instead of map", input: `{"action":"add-dependencies","dependencies":"a:b"}`, wantErr: true},
		{name: "bad key", input: `{"action":"add-dependencies","dependencies":{"a:b":[]}}`, wantErr: true},
		{name: "bad value", input: `{"action":"add-dependencies","dependencies":{"a":42}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := Decode(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Kind != KindSeed {
				t.Fatalf("Kind = %v, want KindSeed", msg.Kind)
			}
			if len(msg.Seed) != len(tt.want) {
				t.Fatalf("Seed = %v, want %v", msg.Seed, tt.want)
			}
			for id, deps := range tt.want {
				if !slices.Equal(msg.Seed[id], deps) {
					t.Errorf("Seed[%s] = %v, want %v", id, msg.Seed[id], deps)
				}
			}
		})
	}
}

func TestDecodeRejectsOversizedRequest(t *testing.T) {
	t.Parallel()

	huge := `{"id":"web","action":"pre-dump","dependencies":"` + strings.Repeat("a", MaxRequestSize) + `"}`
	if _, err := Decode(strings.NewReader(huge)); !errors.Is(err, ErrMalformedRequest) {
		t.Errorf("Decode() error = %v, want ErrMalformedRequest", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	req, err := NewPhaseRequest("web", ActionNetworkLock, []string{"db", "cache"}, "/img", false)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, req); err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Arrival.Phase != ActionNetworkLock || len(msg.Arrival.Dependencies) != 2 {
		t.Errorf("Decode(Encode()) = %+v", msg.Arrival)
	}

	seedReq, err := NewSeedRequest(map[string][]string{"db": nil})
	if err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := Encode(&buf, seedReq); err != nil {
		t.Fatal(err)
	}
	seed, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if seed.Kind != KindSeed || len(seed.Seed) != 1 {
		t.Errorf("seed round trip = %+v", seed)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token   string
		want    Status
		code    types.ExitCode
		wantErr bool
	}{
		{token: "ACK", want: StatusACK, code: types.ExitSuccess},
		{token: "timeout\n", want: StatusTimeout, code: types.ExitTimeout},
		{token: "malformed request", want: StatusMalformed, code: types.ExitMalformed},
		{token: "server busy", want: StatusBusy, code: types.ExitBusy},
		{token: "aborted", want: StatusAborted, code: types.ExitFailure},
		{token: "", wantErr: true},
		{token: "not connected", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ReadStatus(strings.NewReader(tt.token))
		if (err != nil) != tt.wantErr {
			t.Errorf("ReadStatus(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownStatus) {
				t.Errorf("error does not wrap ErrUnknownStatus: %v", err)
			}
			continue
		}
		if got != tt.want || got.ExitCode() != tt.code {
			t.Errorf("ReadStatus(%q) = %q (exit %d), want %q (exit %d)", tt.token, got, got.ExitCode(), tt.want, tt.code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := map[rendezvous.Outcome]Status{
		rendezvous.Released: StatusACK,
		rendezvous.TimedOut: StatusTimeout,
		rendezvous.Aborted:  StatusAborted,
		rendezvous.Departed: StatusAborted,
	}
	for outcome, want := range tests {
		if got := StatusFor(outcome); got != want {
			t.Errorf("StatusFor(%s) = %q, want %q", outcome, got, want)
		}
	}

	var buf bytes.Buffer
	if err := WriteStatus(&buf, StatusBusy); err != nil || buf.String() != "server busy" {
		t.Errorf("WriteStatus() wrote %q, err %v", buf.String(), err)
	}
}
