package ui

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/taskbridge/internal/opentasks"
)

func strPtr(s string) *string { return &s }

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"table", "JSON", "yaml"} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", in, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func sampleLists() []opentasks.List {
	return []opentasks.List{
		{ID: 1, Account: "bitfire.at.davdroid:me", Name: "Work", Color: 0xff0000, URL: "/dav/work/", CTag: strPtr("v3")},
		{ID: 2, Account: "bitfire.at.davdroid:me", Name: "Home"},
	}
}

func TestLists_Table(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	if err := p.Lists(FormatTable, sampleLists()); err != nil {
		t.Fatalf("Lists() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"NAME", "Work", "Home", "v3", "/dav/work/"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("Output to a non-terminal must not contain escape codes")
	}
}

func TestLists_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf).Lists(FormatJSON, sampleLists()); err != nil {
		t.Fatalf("Lists() failed: %v", err)
	}
	var views []ListView
	if err := json.Unmarshal(buf.Bytes(), &views); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if len(views) != 2 || views[0].Color != "#ff0000" || views[1].CTag != nil {
		t.Errorf("Unexpected views: %+v", views)
	}
}

func TestEtags_YAML(t *testing.T) {
	var buf bytes.Buffer
	etags := []opentasks.Etag{{SyncID: "a.ics", ETag: strPtr("e1")}, {SyncID: "b.ics"}}
	if err := NewPrinter(&buf).Etags(FormatYAML, etags); err != nil {
		t.Fatalf("Etags() failed: %v", err)
	}
	var views []EtagView
	if err := yaml.Unmarshal(buf.Bytes(), &views); err != nil {
		t.Fatalf("Invalid YAML output: %v", err)
	}
	if len(views) != 2 || views[0].SyncID != "a.ics" || views[0].ETag == nil || views[1].ETag != nil {
		t.Errorf("Unexpected views: %+v", views)
	}
}

func TestTasks_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf).Tasks(FormatTable, nil); err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(none)") {
		t.Errorf("Expected empty marker, got %q", buf.String())
	}
}

func TestTasks_Table(t *testing.T) {
	var buf bytes.Buffer
	order := int64(7)
	tasks := []*opentasks.Task{{ID: 3, UID: "u3", Title: "Ship", Tags: []string{"a", "b"}, Order: &order, ParentUID: "u1"}}
	if err := NewPrinter(&buf).Tasks(FormatTable, tasks); err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Ship", "a,b", "7", "u1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}
