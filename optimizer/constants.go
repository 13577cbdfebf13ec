package optimizer

// MaxShortenAttempts bounds how often the Enforcer asks for a shorter prompt.
const MaxShortenAttempts = 10

// Default configuration values
const (
	DefaultMaxPromptLength    = 1500
	DefaultScoreThreshold     = 9.5
	DefaultMinIterations      = 1
	DefaultMaxIterations      = 20
	DefaultStudentTemperature = 0.1
	DefaultInitialScore       = -1.0
)
