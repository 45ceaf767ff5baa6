package nl2sql

import (
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/schema"
)

func studentsSnapshot() schema.Snapshot {
	return schema.Snapshot{
		Database: "school",
		Tables: []schema.Table{
			{
				Name: "teachers",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", PrimaryKey: true},
					{Name: "name", DataType: "text", Nullable: true},
				},
			},
			{
				Name: "students",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", PrimaryKey: true},
					{Name: "name", DataType: "text", Nullable: true},
					{Name: "age", DataType: "integer", Nullable: true},
					{Name: "sex", DataType: "text", Nullable: true},
				},
			},
		},
	}
}

func TestBuildPayloadDeterministic(t *testing.T) {
	snapshot := studentsSnapshot()
	first := BuildPayload("add a new student", snapshot, PromptConfig{Dialect: "postgres"})
	for i := 0; i < 5; i++ {
		again := BuildPayload("add a new student", snapshot, PromptConfig{Dialect: "postgres"})
		if again != first {
			t.Fatalf("payload changed between calls:\n%q\nvs\n%q", again.User, first.User)
		}
	}
}

func TestBuildPayloadRanksOverlappingTablesFirst(t *testing.T) {
	payload := BuildPayload("add a new student Wang Wu, age 19, male", studentsSnapshot(), PromptConfig{})

	studentsIdx := strings.Index(payload.User, "TABLE students")
	teachersIdx := strings.Index(payload.User, "TABLE teachers")
	if studentsIdx < 0 || teachersIdx < 0 {
		t.Fatalf("both tables should be rendered:\n%s", payload.User)
	}
	if studentsIdx > teachersIdx {
		t.Fatal("students should be rendered before teachers for a student request")
	}
}

func TestBuildPayloadBudgetKeepsBestTable(t *testing.T) {
	payload := BuildPayload("how old is each student", studentsSnapshot(), PromptConfig{SchemaBudget: 40})

	if !strings.Contains(payload.User, "TABLE students") {
		t.Fatalf("best-ranked table must survive truncation:\n%s", payload.User)
	}
	if strings.Contains(payload.User, "TABLE teachers") {
		t.Fatalf("teachers should be truncated under the budget:\n%s", payload.User)
	}
}

func TestBuildPayloadRendersPrimaryKeyAndSamples(t *testing.T) {
	snapshot := studentsSnapshot()
	snapshot.Tables[1].SampleRows = [][]string{{"7", "Li Si", "21", "M"}}

	payload := BuildPayload("list students", snapshot, PromptConfig{})
	if !strings.Contains(payload.User, "id integer PRIMARY KEY") {
		t.Fatalf("primary key marker missing:\n%s", payload.User)
	}
	if !strings.Contains(payload.User, "sample: 7, Li Si, 21, M") {
		t.Fatalf("sample row missing:\n%s", payload.User)
	}
}
