package app

import (
	"os"
	"regexp"
	"strings"
	"testing"
)

// The validation maps in service.go must admit exactly the values the
// database CHECK constraints admit, or validated writes can still fail at
// the database layer.
func TestEnumAllowlistsMatchSchema(t *testing.T) {
	schema, err := os.ReadFile("../../db/migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	checks := parseCheckLists(t, string(schema))

	assertSameSet(t, "project stage", checks["stage"], allowedProjectStages)
	assertSameSet(t, "document type", checks["type"], allowedDocumentTypes)

	// Two columns are named status; tell them apart by membership.
	var docStatuses, userStatuses []string
	for _, list := range checks["status"] {
		if contains(list, "UPLOADED") {
			docStatuses = list
		}
		if contains(list, "active") {
			userStatuses = list
		}
	}
	assertSameSetList(t, "document status", docStatuses, allowedDocumentStatuses)

	if len(userStatuses) != 2 || !contains(userStatuses, "active") || !contains(userStatuses, "inactive") {
		t.Errorf("user status constraint = %v, want [active inactive]", userStatuses)
	}
}

var checkListPattern = regexp.MustCompile(`CHECK \((\w+) IN \(([^)]+)\)\)`)

// parseCheckLists extracts every "CHECK (col IN (...))" clause, keyed by
// column name. Columns that appear more than once map to multiple lists.
func parseCheckLists(t *testing.T, schema string) map[string][][]string {
	t.Helper()
	out := make(map[string][][]string)
	for _, match := range checkListPattern.FindAllStringSubmatch(schema, -1) {
		column := match[1]
		var values []string
		for _, raw := range strings.Split(match[2], ",") {
			values = append(values, strings.Trim(strings.TrimSpace(raw), "'"))
		}
		out[column] = append(out[column], values)
	}
	if len(out) == 0 {
		t.Fatal("no CHECK constraints found in migration")
	}
	return out
}

func assertSameSet(t *testing.T, name string, lists [][]string, allowed map[string]struct{}) {
	t.Helper()
	if len(lists) != 1 {
		t.Fatalf("%s: expected one CHECK list, got %d", name, len(lists))
	}
	assertSameSetList(t, name, lists[0], allowed)
}

func assertSameSetList(t *testing.T, name string, values []string, allowed map[string]struct{}) {
	t.Helper()
	if len(values) != len(allowed) {
		t.Errorf("%s: schema admits %v, validation map has %d entries", name, values, len(allowed))
	}
	for _, value := range values {
		if _, ok := allowed[value]; !ok {
			t.Errorf("%s: schema admits %q but validation rejects it", name, value)
		}
	}
}

func contains(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
