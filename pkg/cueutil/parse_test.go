// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"strings"
	"testing"
)

const testSchema = `
#Peer: {
	id:    string & !=""
	port?: int & >=1 & <=65535
	deps?: [...string]
}
`

type testPeer struct {
	ID   string   `json:"id"`
	Port int      `json:"port"`
	Deps []string `json:"deps"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		want    testPeer
		wantErr string
	}{
		{
			name: "cue input",
			data: `id: "web"
port: 8080
deps: ["db"]`,
			want: testPeer{ID: "web", Port: 8080, Deps: []string{"db"}},
		},
		{
			name: "json input",
			data: `{"id": "db", "deps": []}`,
			want: testPeer{ID: "db", Deps: []string{}},
		},
		{name: "out of range", data: `id: "a", port: 70000`, wantErr: "peer.cue: port"},
		{name: "empty id", data: `id: ""`, wantErr: "peer.cue: id"},
		{name: "unknown field", data: `id: "a", extra: 1`, wantErr: "extra"},
		{name: "syntax error", data: `id: "a`, wantErr: "peer.cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := ParseAndDecodeString[testPeer](testSchema, []byte(tt.data), "#Peer", WithFilename("peer.cue"))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := *res.Value
			if got.ID != tt.want.ID || got.Port != tt.want.Port || strings.Join(got.Deps, ":") != strings.Join(tt.want.Deps, ":") {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAndDecode_Limits(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecodeString[testPeer](testSchema, []byte(`id: "web"`), "#Peer", WithMaxFileSize(4))
	if err == nil || !strings.Contains(err.Error(), "<input>") {
		t.Errorf("expected size error naming <input>, got %v", err)
	}

	_, err = ParseAndDecodeString[testPeer](testSchema, []byte(`id: "web"`), "#Missing")
	if err == nil || !strings.Contains(err.Error(), "#Missing") {
		t.Errorf("expected missing definition error, got %v", err)
	}
}

func TestParseAndDecode_Concrete(t *testing.T) {
	t.Parallel()

	schema := `#S: { name: string }`
	if _, err := ParseAndDecodeString[map[string]any](schema, []byte(`{}`), "#S", WithConcrete(true)); err == nil {
		t.Error("expected concrete validation to reject a missing required field")
	}
}
