// Package artifacts persists everything a run produces under a per-run
// directory: the candidate of every iteration, raw student outputs, the
// scored log, the resolved configuration, the best candidate and the final
// summary. Write failures are logged and never returned to the optimizer.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/oklog/ulid/v2"

	"github.com/teilomillet/extractopt/config"
	"github.com/teilomillet/extractopt/internal/logging"
)

const (
	promptsDir   = "prompts"
	schemasDir   = "schemas"
	responsesDir = "responses"

	configFile     = "config.yaml"
	logBaseName    = "optimization_log"
	bestPromptFile = "best_prompt.txt"
	bestSchemaFile = "best_schema.json"
	summaryFile    = "summary.txt"
)

// Store writes the artifacts of one run. Directories are created on first
// write, so a run that never starts leaves nothing behind.
type Store struct {
	runID  string
	dir    string
	format string
	logger logging.Logger

	mu    sync.Mutex
	table table
}

// New prepares a store under baseDir/<run id>. format selects the log table
// ("csv" or "xlsx").
func New(baseDir, format string, logger logging.Logger) (*Store, error) {
	switch format {
	case config.LogFormatCSV, config.LogFormatXLSX:
	case "":
		format = config.LogFormatCSV
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if logger == nil {
		logger = logging.NewLogger(logging.LogLevelWarn)
	}
	runID := ulid.Make().String()
	return &Store{
		runID:  runID,
		dir:    filepath.Join(baseDir, runID),
		format: format,
		logger: logger,
	}, nil
}

// RunID returns the identifier of the run directory.
func (s *Store) RunID() string { return s.runID }

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the location of name inside the run directory.
func (s *Store) Path(name ...string) string {
	return filepath.Join(append([]string{s.dir}, name...)...)
}

// LogPath returns the location of the tabular log.
func (s *Store) LogPath() string {
	return s.Path(logBaseName + "." + s.format)
}

func (s *Store) write(data []byte, name ...string) {
	path := s.Path(name...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Error("Failed to create artifact directory", "error", err, "path", filepath.Dir(path))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("Failed to write artifact", "error", err, "file", path)
		return
	}
	s.logger.Debug("Artifact written", "file", path)
}

func (s *Store) writeSchema(schema *jsonschema.Schema, name ...string) {
	if schema == nil {
		return
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal schema", "error", err)
		return
	}
	s.write(data, name...)
}

// SaveConfig writes the resolved configuration with credentials redacted.
func (s *Store) SaveConfig(cfg *config.Config) {
	data, err := cfg.Redacted().YAML()
	if err != nil {
		s.logger.Error("Failed to marshal config", "error", err)
		return
	}
	s.write(data, configFile)
}

// SaveCandidate records the prompt and schema used by an iteration.
func (s *Store) SaveCandidate(iteration int, prompt string, schema *jsonschema.Schema) {
	s.write([]byte(prompt), promptsDir, fmt.Sprintf("iter_%d.txt", iteration))
	s.writeSchema(schema, schemasDir, fmt.Sprintf("iter_%d.json", iteration))
}

// SaveOutput records a raw student output.
func (s *Store) SaveOutput(iteration, document int, output string) {
	s.write([]byte(output), responsesDir, fmt.Sprintf("iter_%d_doc_%d.json", iteration, document))
}

// LogRow appends a scored output to the log table, creating it (with its
// header) on first use.
func (s *Store) LogRow(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			s.logger.Error("Failed to create artifact directory", "error", err, "path", s.dir)
			return
		}
		var (
			t   table
			err error
		)
		if s.format == config.LogFormatXLSX {
			t, err = openXLSX(s.LogPath())
		} else {
			t, err = openCSV(s.LogPath())
		}
		if err != nil {
			s.logger.Error("Failed to open optimization log", "error", err, "file", s.LogPath())
			return
		}
		s.table = t
	}
	if err := s.table.Append(row); err != nil {
		s.logger.Error("Failed to append to optimization log", "error", err, "iteration", row.Iteration, "document", row.Document)
	}
}

// SaveBest writes the winning candidate. For the prompt target that is the
// prompt text, for the schema target the schema document.
func (s *Store) SaveBest(target, prompt string, schema *jsonschema.Schema, score float64) {
	if target == config.TargetSchema {
		s.writeSchema(schema, bestSchemaFile)
	} else {
		s.write([]byte(prompt), bestPromptFile)
	}
	s.logger.Info("Best candidate saved", "target", target, "score", score, "dir", s.dir)
}

// SaveSummary writes the final natural-language summary.
func (s *Store) SaveSummary(summary string) {
	s.write([]byte(summary), summaryFile)
}

// Close releases the log table.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return nil
	}
	err := s.table.Close()
	s.table = nil
	return err
}
