// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"
)

func TestCatalogIsComplete(t *testing.T) {
	ids := []Id{
		ServerUnreachableId,
		SyncTimeoutId,
		ServerBusyId,
		MalformedRequestId,
		ListenFailedId,
		ConfigNotFoundId,
		ConfigInvalidId,
		AsymmetricDependenciesId,
	}

	if len(issues) != len(ids) {
		t.Errorf("catalog has %d issues, want %d", len(issues), len(ids))
	}
	for _, id := range ids {
		i := Get(id)
		if i == nil {
			t.Errorf("Get(%d) returned nil", id)
			continue
		}
		if i.Id() != id {
			t.Errorf("Get(%d).Id() = %d", id, i.Id())
		}
		if strings.TrimSpace(string(i.MarkdownMsg())) == "" {
			t.Errorf("issue %d has no message", id)
		}
	}
	if Get(Id(999)) != nil {
		t.Error("Get(999) should return nil")
	}
}

func TestValuesOrdered(t *testing.T) {
	values := Values()
	if len(values) != len(issues) {
		t.Fatalf("Values() returned %d issues, want %d", len(values), len(issues))
	}
	for i := 1; i < len(values); i++ {
		if values[i-1].Id() >= values[i].Id() {
			t.Errorf("Values() not ordered at %d: %d >= %d", i, values[i-1].Id(), values[i].Id())
		}
	}
}

func TestRenderAppendsLinks(t *testing.T) {
	original := render
	defer func() { render = original }()
	render = func(in, _ string) (string, error) { return in, nil }

	out, err := Get(ServerUnreachableId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "criu-coordinator server") {
		t.Error("rendered issue lacks its remediation command")
	}
	if !strings.Contains(out, "## See also") || !strings.Contains(out, string(criuActionScripts)) {
		t.Error("rendered issue lacks its documentation link")
	}

	out, err = Get(ServerBusyId).Render("notty")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "See also") {
		t.Error("issue without links rendered a See also section")
	}
}

func TestAllIssuesRenderWithGlamour(t *testing.T) {
	for _, i := range Values() {
		out, err := i.Render("notty")
		if err != nil {
			t.Errorf("issue %d: Render() error = %v", i.Id(), err)
			continue
		}
		if strings.TrimSpace(out) == "" {
			t.Errorf("issue %d rendered empty output", i.Id())
		}
	}
}
