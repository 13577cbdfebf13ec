package artifacts

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/teilomillet/extractopt/config"
	"github.com/teilomillet/extractopt/internal/logging"
)

func newStore(t *testing.T, format string) (*Store, *logging.MockLogger) {
	t.Helper()
	logger := logging.NewMockLogger()
	s, err := New(t.TempDir(), format, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, logger
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewIsLazy(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "", nil)
	require.NoError(t, err)

	assert.Len(t, s.RunID(), 26)
	assert.Equal(t, filepath.Join(base, s.RunID()), s.Dir())
	assert.NoDirExists(t, s.Dir())
	assert.Equal(t, filepath.Join(s.Dir(), "optimization_log.csv"), s.LogPath())

	_, err = New(base, "parquet", nil)
	assert.Error(t, err)
}

func TestSaveCandidateAndOutput(t *testing.T) {
	s, _ := newStore(t, config.LogFormatCSV)
	schema := &jsonschema.Schema{Type: "object"}

	s.SaveCandidate(1, "Extract events.", schema)
	s.SaveCandidate(2, "Extract all events.", nil)
	s.SaveOutput(1, 3, `{"events":[]}`)

	assert.Equal(t, "Extract events.", readFile(t, s.Path("prompts", "iter_1.txt")))
	assert.Equal(t, "Extract all events.", readFile(t, s.Path("prompts", "iter_2.txt")))
	assert.JSONEq(t, `{"type":"object"}`, readFile(t, s.Path("schemas", "iter_1.json")))
	assert.NoFileExists(t, s.Path("schemas", "iter_2.json"))
	assert.Equal(t, `{"events":[]}`, readFile(t, s.Path("responses", "iter_1_doc_3.json")))
}

func TestCSVLogWritesHeaderOnce(t *testing.T) {
	s, _ := newStore(t, config.LogFormatCSV)

	s.LogRow(Row{Iteration: 1, Document: 1, StudentOutput: `{"events":[{"event":"a, b"}]}`, Score: 7, Critique: "ok", Prompt: "p1"})
	s.LogRow(Row{Iteration: 1, Document: 2, StudentOutput: "{}", Score: 3, Critique: "line\nbreak", Prompt: "p1"})
	require.NoError(t, s.Close())

	f, err := os.Open(s.LogPath())
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"1", "1", `{"events":[{"event":"a, b"}]}`, "7", "ok", "p1"}, records[1])
	assert.Equal(t, "line\nbreak", records[2][4])
}

func TestXLSXLog(t *testing.T) {
	s, _ := newStore(t, config.LogFormatXLSX)
	s.LogRow(Row{Iteration: 2, Document: 1, StudentOutput: "{}", Score: 9, Critique: "good", Prompt: "p"})
	require.NoError(t, s.Close())

	f, err := excelize.OpenFile(s.LogPath())
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"2", "1", "{}", "9", "good", "p"}, rows[1])
}

func TestSaveBest(t *testing.T) {
	s, logger := newStore(t, config.LogFormatCSV)
	schema := &jsonschema.Schema{Type: "object", Description: "events"}

	s.SaveBest(config.TargetPrompt, "best prompt", schema, 8.5)
	assert.Equal(t, "best prompt", readFile(t, s.Path("best_prompt.txt")))
	assert.NoFileExists(t, s.Path("best_schema.json"))

	s.SaveBest(config.TargetSchema, "best prompt", schema, 9)
	assert.JSONEq(t, `{"type":"object","description":"events"}`, readFile(t, s.Path("best_schema.json")))
	assert.True(t, logger.HasMessage("Best candidate saved"))
}

func TestSaveConfigRedactsKey(t *testing.T) {
	s, _ := newStore(t, config.LogFormatCSV)
	cfg := config.NewConfig()
	cfg.APIKey = "sk-secret"

	s.SaveConfig(cfg)

	raw := readFile(t, s.Path("config.yaml"))
	assert.NotContains(t, raw, "sk-secret")
	var back config.Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &back))
	assert.Equal(t, "[redacted]", back.APIKey)
	assert.Equal(t, cfg.TeacherModel, back.TeacherModel)
	assert.Equal(t, "sk-secret", cfg.APIKey)
}

func TestWriteFailureIsLoggedNotReturned(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	logger := logging.NewMockLogger()
	s, err := New(blocker, config.LogFormatCSV, logger)
	require.NoError(t, err)

	s.SaveSummary("summary")
	s.LogRow(Row{Iteration: 1})
	assert.True(t, logger.HasMessage("Failed to create artifact directory"))
}

func TestSaveSummary(t *testing.T) {
	s, _ := newStore(t, config.LogFormatCSV)
	s.SaveSummary("Listing enums helped.")
	assert.Equal(t, "Listing enums helped.", readFile(t, s.Path("summary.txt")))
}
