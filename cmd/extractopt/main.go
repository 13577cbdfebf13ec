// Package main provides the command-line interface for the extraction
// prompt optimizer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teilomillet/extractopt/artifacts"
	"github.com/teilomillet/extractopt/config"
	"github.com/teilomillet/extractopt/documents"
	"github.com/teilomillet/extractopt/evaluator"
	"github.com/teilomillet/extractopt/internal/logging"
	"github.com/teilomillet/extractopt/optimizer"
	"github.com/teilomillet/extractopt/providers"
)

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

// cmdFlags holds all command-line flags
type cmdFlags struct {
	configPath    string
	backend       string
	baseURL       string
	apiKey        string
	localEndpoint string
	studentModel  string
	teacherModel  string
	prompt        string
	schemaPath    string
	target        string
	maxLength     int
	lengthUnit    string
	threshold     float64
	minIterations int
	maxIterations int
	timeout       time.Duration
	concurrency   int
	rateLimit     float64
	artifactDir   string
	logFormat     string
	documentsDir  string
	logLevel      string
	metricsAddr   string
	trace         bool
}

// parseFlags parses command-line flags
func parseFlags(args []string) (*cmdFlags, *flag.FlagSet, error) {
	flags := &cmdFlags{}
	fs := flag.NewFlagSet("extractopt", flag.ContinueOnError)
	fs.StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&flags.backend, "backend", "", "Generation backend (remote, local)")
	fs.StringVar(&flags.baseURL, "base-url", "", "Base URL of the OpenAI-compatible API")
	fs.StringVar(&flags.apiKey, "api-key", "", "API key for the backend")
	fs.StringVar(&flags.localEndpoint, "local-endpoint", "", "Endpoint of the local inference runtime")
	fs.StringVar(&flags.studentModel, "student", "", "Student model identifier")
	fs.StringVar(&flags.teacherModel, "teacher", "", "Teacher model identifier")
	fs.StringVar(&flags.prompt, "prompt", "", "Initial student system prompt")
	fs.StringVar(&flags.schemaPath, "schema", "", "Path to the initial JSON schema")
	fs.StringVar(&flags.target, "target", "", "What to optimize (prompt, schema)")
	fs.IntVar(&flags.maxLength, "max-prompt-length", 0, "Maximum prompt length")
	fs.StringVar(&flags.lengthUnit, "length-unit", "", "Unit of the prompt length limit (chars, tokens)")
	fs.Float64Var(&flags.threshold, "threshold", 0, "Average score that ends the run when the teacher cannot decide")
	fs.IntVar(&flags.minIterations, "min-iterations", 0, "Iterations before the stop check applies")
	fs.IntVar(&flags.maxIterations, "max-iterations", 0, "Maximum number of iterations")
	fs.DurationVar(&flags.timeout, "timeout", 0, "Per-request timeout")
	fs.IntVar(&flags.concurrency, "concurrency", 0, "Concurrent remote requests")
	fs.Float64Var(&flags.rateLimit, "rate-limit", 0, "Remote requests per second (0 disables)")
	fs.StringVar(&flags.artifactDir, "artifact-dir", "", "Directory for run artifacts")
	fs.StringVar(&flags.logFormat, "log-format", "", "Tabular log format (csv, xlsx)")
	fs.StringVar(&flags.documentsDir, "documents", "", "Directory of *.txt benchmark documents")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level (off, error, warn, info, debug)")
	fs.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&flags.trace, "trace", false, "Print OpenTelemetry spans to stdout")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return flags, fs, nil
}

// configOptions turns the flags that were explicitly set into config
// overrides, so unset flags never mask file or environment values.
func configOptions(flags *cmdFlags, fs *flag.FlagSet) ([]config.ConfigOption, error) {
	var (
		opts []config.ConfigOption
		err  error
	)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			opts = append(opts, config.SetBackend(flags.backend))
		case "base-url":
			opts = append(opts, config.SetBaseURL(flags.baseURL))
		case "api-key":
			opts = append(opts, config.SetAPIKey(flags.apiKey))
		case "local-endpoint":
			opts = append(opts, config.SetLocalEndpoint(flags.localEndpoint))
		case "student":
			opts = append(opts, config.SetStudentModel(flags.studentModel))
		case "teacher":
			opts = append(opts, config.SetTeacherModel(flags.teacherModel))
		case "prompt":
			opts = append(opts, config.SetInitialPrompt(flags.prompt))
		case "schema":
			opts = append(opts, config.SetInitialSchemaPath(flags.schemaPath))
		case "target":
			opts = append(opts, config.SetTarget(flags.target))
		case "max-prompt-length":
			opts = append(opts, config.SetMaxPromptLength(flags.maxLength))
		case "length-unit":
			opts = append(opts, config.SetLengthUnit(flags.lengthUnit))
		case "threshold":
			opts = append(opts, config.SetScoreThreshold(flags.threshold))
		case "min-iterations":
			opts = append(opts, config.SetMinIterations(flags.minIterations))
		case "max-iterations":
			opts = append(opts, config.SetMaxIterations(flags.maxIterations))
		case "timeout":
			opts = append(opts, config.SetTimeout(flags.timeout))
		case "concurrency":
			opts = append(opts, config.SetConcurrency(flags.concurrency))
		case "rate-limit":
			opts = append(opts, config.SetRateLimit(flags.rateLimit))
		case "artifact-dir":
			opts = append(opts, config.SetArtifactDir(flags.artifactDir))
		case "log-format":
			opts = append(opts, config.SetLogFormat(flags.logFormat))
		case "documents":
			opts = append(opts, config.SetDocumentsDir(flags.documentsDir))
		case "log-level":
			var level logging.LogLevel
			if uerr := level.UnmarshalText([]byte(flags.logLevel)); uerr != nil {
				err = uerr
				return
			}
			opts = append(opts, config.SetLogLevel(level))
		}
	})
	return opts, err
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	opts, err := configOptions(flags, fs)
	if err != nil {
		printError("Error parsing flags: %v\n", err)
		return exitUsage
	}
	cfg, err := config.Load(flags.configPath, opts...)
	if err != nil {
		printError("Error loading config: %v\n", err)
		return exitFailure
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.trace {
		shutdown, err := setupTracing()
		if err != nil {
			printError("Error setting up tracing: %v\n", err)
			return exitFailure
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to flush traces", "error", err)
			}
		}()
	}
	if flags.metricsAddr != "" {
		srv := serveMetrics(flags.metricsAddr, logger)
		defer func() { _ = srv.Close() }()
	}

	res, store, err := optimize(ctx, cfg, logger)
	if store != nil {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("Failed to close optimization log", "error", cerr)
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		printError("Optimization cancelled\n")
		return exitCancelled
	case err != nil:
		printError("Error: %v\n", err)
		return exitFailure
	}

	printResult(os.Stdout, res, cfg.Target, store.Dir())
	return exitOK
}

// optimize wires the configured components together and runs one
// optimization.
func optimize(ctx context.Context, cfg *config.Config, logger logging.Logger) (*optimizer.Result, *artifacts.Store, error) {
	backend, err := providers.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating backend: %w", err)
	}
	teacher := evaluator.New(backend, cfg.TeacherModel,
		evaluator.WithTemperature(cfg.TeacherTemperature),
		evaluator.WithMutationTemperature(cfg.MutationTemperature),
		evaluator.WithLogger(logger),
	)

	docs, err := documents.Load(cfg.DocumentsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading documents: %w", err)
	}

	schema := evaluator.DefaultExtractionSchema()
	if cfg.InitialSchemaPath != "" {
		if schema, err = evaluator.LoadSchemaFile(cfg.InitialSchemaPath); err != nil {
			return nil, nil, fmt.Errorf("loading schema: %w", err)
		}
	}

	store, err := artifacts.New(cfg.ArtifactDir, cfg.LogFormat, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating artifact store: %w", err)
	}

	opts, err := optimizer.OptionsFromConfig(cfg, schema)
	if err != nil {
		return nil, store, err
	}
	opts = append(opts,
		optimizer.WithRecorder(store),
		optimizer.WithLogger(logger),
		optimizer.WithIterationCallback(func(r optimizer.IterationRecord) {
			fmt.Printf("Iteration %d: average %.2f/10 (%d scored, %d failed)\n",
				r.Iteration, r.Average, len(r.Critiques), len(r.Failures))
		}),
	)

	opt, err := optimizer.New(backend, teacher, docs, opts...)
	if err != nil {
		return nil, store, err
	}
	store.SaveConfig(cfg)

	res, err := opt.Run(ctx)
	if err != nil {
		return nil, store, err
	}
	return res, store, nil
}

func serveMetrics(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)
	return srv
}

func printResult(w io.Writer, res *optimizer.Result, target, artifactDir string) {
	_, _ = fmt.Fprintf(w, "\nTermination: %s\n", res.Termination)
	_, _ = fmt.Fprintf(w, "Best score: %.2f/10 (iteration %d)\n", res.Best.Score, res.Best.Iteration)
	if target == config.TargetSchema {
		schemaJSON, err := evaluator.SchemaJSON(res.Best.Candidate.Schema)
		if err != nil {
			schemaJSON = fmt.Sprintf("(unavailable: %v)", err)
		}
		_, _ = fmt.Fprintf(w, "Best schema:\n%s\n", schemaJSON)
	} else {
		_, _ = fmt.Fprintf(w, "Best prompt:\n%s\n", res.Best.Candidate.Prompt)
	}
	if res.SummaryErr == nil {
		_, _ = fmt.Fprintf(w, "\nSummary:\n%s\n", res.Summary)
	}
	_, _ = fmt.Fprintf(w, "\nArtifacts: %s\n", artifactDir)
}

// printError prints an error message to stderr
func printError(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format, args...)
}
