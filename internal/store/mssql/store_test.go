package mssql

import (
	"strings"
	"testing"

	"rowlab/internal/dataset"
)

func TestBuildMergeSQLParameters(t *testing.T) {
	rows := []dataset.Row{
		{"id": dataset.Text("a")},
		{"id": dataset.Text("b")},
	}

	stmt, args, err := buildMergeSQL(rows)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(args) != 4 {
		t.Fatalf("args=%d want 4", len(args))
	}
	if !strings.Contains(stmt, "(@p1, @p2), (@p3, @p4)") {
		t.Fatalf("parameter numbering wrong:\n%s", stmt)
	}
	if !strings.Contains(stmt, "WHEN MATCHED THEN UPDATE SET doc = s.doc") {
		t.Fatalf("missing update arm:\n%s", stmt)
	}
	if !strings.Contains(stmt, "WHEN NOT MATCHED THEN INSERT (id, doc)") {
		t.Fatalf("missing insert arm:\n%s", stmt)
	}
	if args[0] != "a" || args[2] != "b" {
		t.Fatalf("id args out of order: %v", args)
	}
}

func TestBuildMergeSQLCollapsesDuplicateIDs(t *testing.T) {
	rows := []dataset.Row{
		{"id": dataset.Text("dup"), "x": dataset.Numeric(1)},
		{"id": dataset.Text("dup"), "x": dataset.Numeric(2)},
	}

	stmt, args, err := buildMergeSQL(rows)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// MERGE rejects a source hitting the same target row twice.
	if len(args) != 2 {
		t.Fatalf("args=%d want 2", len(args))
	}
	if strings.Contains(stmt, "(@p3, @p4)") {
		t.Fatalf("duplicate id produced a second value tuple:\n%s", stmt)
	}
	if doc := string(args[1].([]byte)); !strings.Contains(doc, `"x":2`) {
		t.Fatalf("surviving doc=%s want the last occurrence", doc)
	}
}
