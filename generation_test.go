package kindling

import (
	"testing"
)

func TestDefaultGenerations_Order(t *testing.T) {
	gens := DefaultGenerations()
	want := []Generation{STU3, R4, R4B, R5}

	got := gens.All()
	if len(got) != len(want) {
		t.Fatalf("All() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %s; want %s", i, got[i], want[i])
		}
		if idx := gens.Index(want[i]); idx != i {
			t.Errorf("Index(%s) = %d; want %d", want[i], idx, i)
		}
	}
	if gens.Index("R6") != -1 {
		t.Error("Index(R6) should be -1")
	}
}

func TestGenerationSet_HasType(t *testing.T) {
	gens := DefaultGenerations()
	tests := []struct {
		gen  Generation
		code string
		want bool
	}{
		{R4, "HumanName", true},
		{R4, "canonical", true},
		{STU3, "canonical", false},
		{STU3, "uri", true},
		{R4, "CodeableReference", false},
		{R4B, "CodeableReference", true},
		{R5, "CodeableReference", true},
		{R5, "integer64", true},
		{R4, "integer64", false},
		{R5, "SubstanceAmount", false},
		{R4, "http://hl7.org/fhirpath/System.String", true},
		{STU3, "http://hl7.org/fhirpath/System.String", false},
		{"R6", "string", false},
	}
	for _, tt := range tests {
		if got := gens.HasType(tt.gen, tt.code); got != tt.want {
			t.Errorf("HasType(%s, %q) = %v; want %v", tt.gen, tt.code, got, tt.want)
		}
	}
}

func TestGenerationSet_Parse(t *testing.T) {
	gens := DefaultGenerations()
	tests := []struct {
		in   string
		want Generation
		ok   bool
	}{
		{"R4", R4, true},
		{"r4b", R4B, true},
		{"4.0.1", R4, true},
		{"4.0", R4, true},
		{"3.0.2", STU3, true},
		{"5.0.0", R5, true},
		{"4.3", R4B, true},
		{"6.0.0", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := gens.Parse(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Parse(%q) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewGenerationSet_Errors(t *testing.T) {
	if _, err := NewGenerationSet(GenerationSpec{ID: ""}); err == nil {
		t.Error("expected error for empty identifier")
	}
	if _, err := NewGenerationSet(GenerationSpec{ID: "A"}, GenerationSpec{ID: "A"}); err == nil {
		t.Error("expected error for duplicate identifier")
	}
}

func TestNewGenerationSet_Custom(t *testing.T) {
	gens, err := NewGenerationSet(
		GenerationSpec{ID: "A", Types: []string{"HumanName", "string"}},
		GenerationSpec{ID: "B", Types: []string{"Name", "string"}},
	)
	if err != nil {
		t.Fatalf("NewGenerationSet() error = %v", err)
	}
	if !gens.HasType("A", "HumanName") || gens.HasType("B", "HumanName") {
		t.Error("custom type systems not honoured")
	}
	spec, ok := gens.Spec("B")
	if !ok || spec.Types[0] != "Name" {
		t.Errorf("Spec(B) = %+v, %v", spec, ok)
	}
}
