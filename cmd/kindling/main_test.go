package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofhir/kindling"
)

const patientURL = "http://example.org/StructureDefinition/patient"

func writeProfile(t *testing.T, dir, name, nameType string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := fmt.Sprintf(`{
  "resourceType": "StructureDefinition",
  "url": %q,
  "name": "Patient",
  "kind": "resource",
  "type": "Patient",
  "fhirVersion": "4.0.1",
  "snapshot": {"element": [
    {"id": "Patient", "path": "Patient", "min": 0, "max": "*"},
    {"id": "Patient.name", "path": "Patient.name", "min": 0, "max": "*", "type": [{"code": %q}]}
  ]}
}`, patientURL, nameType)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidate_JSON(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")

	out, _, err := execute(t, "validate", "--output", "json", "--log-level", "none", path)
	require.NoError(t, err)

	var report kindling.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, kindling.StateComplete, report.State)
	o, ok := report.Outcome(patientURL)
	require.True(t, ok)
	assert.Equal(t, kindling.StatusOK, o.Status)
	assert.Equal(t, path, o.Source)
}

func TestValidate_Text(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")

	out, _, err := execute(t, "validate", "--log-level", "none", path)
	require.NoError(t, err)
	assert.Contains(t, out, "== "+patientURL+" ==")
	assert.Contains(t, out, "Status: VALID")
	assert.Contains(t, out, ": complete, 1 definitions")
}

func TestValidate_BrokenSourceIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"resourceType": "StructureDefinition"`), 0o600))

	out, _, err := execute(t, "validate", "--log-level", "none", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: SKIPPED")
	assert.Contains(t, out, "[load-parse]")
}

func TestConvert_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "patient.json", "HumanName")
	outDir := filepath.Join(dir, "out")

	out, _, err := execute(t, "convert", "--to", "R4B", "--out-dir", outDir, "--log-level", "none", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Converted: R4B")

	data, err := os.ReadFile(filepath.Join(outDir, "patient.R4B.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fhirVersion": "4.3.0"`)
	assert.Contains(t, string(data), patientURL)
}

func TestConvert_NeedsTarget(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")

	_, _, err := execute(t, "convert", "--log-level", "none", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to")
}

func TestRoundTrip_Identical(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")

	out, _, err := execute(t, "roundtrip", "--from", "R4", "--via", "R4B", "--log-level", "none", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Round trip R4 -> R4B -> R4: identical")
}

func TestRoundTrip_NeedsVia(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")

	_, _, err := execute(t, "roundtrip", "--log-level", "none", path)
	require.Error(t, err)
}

func TestConfig_Errors(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")

	_, _, err := execute(t, "validate", "--output", "xml", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")

	_, _, err = execute(t, "validate", "--log-level", "loud", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")

	_, _, err = execute(t, "validate", "--from", "R9", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown generation")
}

func TestConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "patient.json", "HumanName")
	cfgPath := filepath.Join(dir, "kindling.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("output: json\nlog-level: none\n"), 0o600))

	out, _, err := execute(t, "validate", "--config", cfgPath, path)
	require.NoError(t, err)
	var report kindling.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Outcomes, 1)
}

func TestConfig_Env(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "patient.json", "HumanName")
	t.Setenv("KINDLING_OUTPUT", "json")
	t.Setenv("KINDLING_LOG_LEVEL", "none")

	out, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
}

func TestLineDiff(t *testing.T) {
	got := lineDiff("a\nb\nc\n", "a\nx\nc\n")
	assert.Equal(t, "- b\n+ x\n", got)
	assert.Empty(t, lineDiff("same\n", "same\n"))
}

func TestArtifactStem(t *testing.T) {
	assert.Equal(t, "patient", artifactStem(&kindling.Outcome{Source: "dir/patient.json"}))
	assert.Equal(t, "my-patient", artifactStem(&kindling.Outcome{Source: "stdin", URL: "http://x.org/StructureDefinition/my-patient"}))
}
