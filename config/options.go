package config

import (
	"time"

	"github.com/teilomillet/extractopt/internal/logging"
)

type ConfigOption func(*Config)

func SetBackend(backend string) ConfigOption {
	return func(c *Config) {
		c.Backend = backend
	}
}

func SetBaseURL(url string) ConfigOption {
	return func(c *Config) {
		c.BaseURL = url
	}
}

func SetAPIKey(apiKey string) ConfigOption {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

func SetLocalEndpoint(endpoint string) ConfigOption {
	return func(c *Config) {
		c.LocalEndpoint = endpoint
	}
}

func SetStudentModel(model string) ConfigOption {
	return func(c *Config) {
		c.StudentModel = model
	}
}

func SetTeacherModel(model string) ConfigOption {
	return func(c *Config) {
		c.TeacherModel = model
	}
}

func SetInitialPrompt(prompt string) ConfigOption {
	return func(c *Config) {
		c.InitialPrompt = prompt
	}
}

func SetInitialSchemaPath(path string) ConfigOption {
	return func(c *Config) {
		c.InitialSchemaPath = path
	}
}

func SetMaxPromptLength(n int) ConfigOption {
	return func(c *Config) {
		c.MaxPromptLength = n
	}
}

func SetLengthUnit(unit string) ConfigOption {
	return func(c *Config) {
		c.LengthUnit = unit
	}
}

func SetScoreThreshold(threshold float64) ConfigOption {
	return func(c *Config) {
		c.ScoreThreshold = threshold
	}
}

func SetMinIterations(n int) ConfigOption {
	return func(c *Config) {
		c.MinIterations = n
	}
}

func SetMaxIterations(n int) ConfigOption {
	return func(c *Config) {
		c.MaxIterations = n
	}
}

func SetTarget(target string) ConfigOption {
	return func(c *Config) {
		c.Target = target
	}
}

func SetTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func SetMaxRetries(maxRetries int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

func SetRetryDelay(retryDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = retryDelay
	}
}

func SetConcurrency(n int) ConfigOption {
	return func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.Concurrency = n
	}
}

func SetRateLimit(perSecond float64) ConfigOption {
	return func(c *Config) {
		c.RateLimit = perSecond
	}
}

func SetArtifactDir(dir string) ConfigOption {
	return func(c *Config) {
		c.ArtifactDir = dir
	}
}

func SetLogFormat(format string) ConfigOption {
	return func(c *Config) {
		c.LogFormat = format
	}
}

func SetDocumentsDir(dir string) ConfigOption {
	return func(c *Config) {
		c.DocumentsDir = dir
	}
}

func SetLogLevel(level logging.LogLevel) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func ApplyOptions(cfg *Config, options ...ConfigOption) {
	for _, option := range options {
		option(cfg)
	}
}
