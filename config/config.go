package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server settings
	ServerPort      string        `json:"server_port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Debug           bool          `json:"debug"`
	Version         string        `json:"version"`

	// Application paths
	LogDir  string `json:"log_dir"`
	TempDir string `json:"temp_dir"`

	Middleware MiddlewareConfig `json:"middleware"`
	CORS       CORSConfig       `json:"cors"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Database   DatabaseConfig   `json:"database"`
	Cache      CacheConfig      `json:"cache"`
	Extraction ExtractionConfig `json:"extraction"`
	Jobs       JobsConfig       `json:"jobs"`
	Analysis   AnalysisConfig   `json:"analysis"`
	Workflow   WorkflowConfig   `json:"workflow"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Archive    ArchiveConfig    `json:"archive"`
}

type MiddlewareConfig struct {
	EnableRecover   bool `json:"enable_recover"`
	EnableRequestID bool `json:"enable_request_id"`
	EnableLogger    bool `json:"enable_logger"`
	EnableCORS      bool `json:"enable_cors"`
	EnableRateLimit bool `json:"enable_rate_limit"`
	EnableCompress  bool `json:"enable_compress"`
	EnableETag      bool `json:"enable_etag"`
}

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	BurstSize         int `json:"burst_size"`
}

type DatabaseConfig struct {
	Path               string        `json:"path"`
	MaxConnections     int           `json:"max_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
}

type CacheConfig struct {
	TranscriptTTL     time.Duration `json:"transcript_ttl"`
	JobTTL            time.Duration `json:"job_ttl"`
	WorkflowTTL       time.Duration `json:"workflow_ttl"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
	MaxEntries        int           `json:"max_entries"`
	PromoteOnTierTwo  bool          `json:"promote_on_tier_two"`
}

type ExtractionConfig struct {
	EnableCaptionsAPI  bool          `json:"enable_captions_api"`
	EnableBrowser      bool          `json:"enable_browser"`
	EnableSpeechToText bool          `json:"enable_speech_to_text"`
	CaptionsTimeout    time.Duration `json:"captions_timeout"`
	BrowserTimeout     time.Duration `json:"browser_timeout"`
	SpeechTimeout      time.Duration `json:"speech_timeout"`
	ChainBudget        time.Duration `json:"chain_budget"`
	BrowserSessions    int           `json:"browser_sessions"`
	HelperPath         string        `json:"helper_path"`
	PythonPath         string        `json:"python_path"`
	MaxDuration        time.Duration `json:"max_duration"`
}

type JobsConfig struct {
	Workers          int           `json:"workers"`
	QueueDepth       int           `json:"queue_depth"`
	MaxRetries       int           `json:"max_retries"`
	RetryBackoffBase time.Duration `json:"retry_backoff_base"`
	LivenessDeadline time.Duration `json:"liveness_deadline"`
	ReaperInterval   time.Duration `json:"reaper_interval"`
	JobTimeout       time.Duration `json:"job_timeout"`
	Retention        time.Duration `json:"retention"`
}

type AnalysisConfig struct {
	FrameworkTimeout time.Duration `json:"framework_timeout"`
	MaxRetries       int           `json:"max_retries"`
	RetryBackoff     time.Duration `json:"retry_backoff"`
	MaxConcurrent    int           `json:"max_concurrent"`
	TopN             int           `json:"top_n"`
	InvokesPerMinute int           `json:"invokes_per_minute"`
}

type WorkflowConfig struct {
	PollInterval   time.Duration `json:"poll_interval"`
	MaxAttempts    int           `json:"max_attempts"`
	StuckThreshold int           `json:"stuck_threshold"`
	Retention      time.Duration `json:"retention"`
}

type OpenAIConfig struct {
	APIKey       string `json:"-"`
	BaseURL      string `json:"base_url"`
	WhisperModel string `json:"whisper_model"`
	ChatModel    string `json:"chat_model"`
}

type ArchiveConfig struct {
	Enabled   bool   `json:"enabled"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Debug:           getEnvAsBool("DEBUG", false),
		Version:         getEnv("VERSION", "1.0.0"),

		LogDir:  getEnv("LOG_DIR", "/var/log/classlens"),
		TempDir: getEnv("TEMP_DIR", "/tmp/classlens"),

		Middleware: MiddlewareConfig{
			EnableRecover:   getEnvAsBool("MW_RECOVER", true),
			EnableRequestID: getEnvAsBool("MW_REQUEST_ID", true),
			EnableLogger:    getEnvAsBool("MW_LOGGER", true),
			EnableCORS:      getEnvAsBool("MW_CORS", true),
			EnableRateLimit: getEnvAsBool("MW_RATE_LIMIT", true),
			EnableCompress:  getEnvAsBool("MW_COMPRESS", true),
			EnableETag:      getEnvAsBool("MW_ETAG", true),
		},

		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvAsStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 300),
		},

		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
		},

		Database: DatabaseConfig{
			Path:               getEnv("DB_PATH", "/data/classlens.db"),
			MaxConnections:     getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},

		Cache: CacheConfig{
			TranscriptTTL:    getEnvAsDuration("CACHE_TRANSCRIPT_TTL", 7*24*time.Hour),
			JobTTL:           getEnvAsDuration("CACHE_JOB_TTL", 2*time.Hour),
			WorkflowTTL:      getEnvAsDuration("CACHE_WORKFLOW_TTL", 2*time.Hour),
			CleanupInterval:  getEnvAsDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			MaxEntries:       getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
			PromoteOnTierTwo: getEnvAsBool("CACHE_PROMOTE", true),
		},

		Extraction: ExtractionConfig{
			EnableCaptionsAPI:  getEnvAsBool("EXTRACT_CAPTIONS_ENABLED", true),
			EnableBrowser:      getEnvAsBool("EXTRACT_BROWSER_ENABLED", true),
			EnableSpeechToText: getEnvAsBool("EXTRACT_STT_ENABLED", true),
			CaptionsTimeout:    getEnvAsDuration("EXTRACT_CAPTIONS_TIMEOUT", 30*time.Second),
			BrowserTimeout:     getEnvAsDuration("EXTRACT_BROWSER_TIMEOUT", 90*time.Second),
			SpeechTimeout:      getEnvAsDuration("EXTRACT_STT_TIMEOUT", 240*time.Second),
			ChainBudget:        getEnvAsDuration("EXTRACT_CHAIN_BUDGET", 300*time.Second),
			BrowserSessions:    getEnvAsInt("EXTRACT_BROWSER_SESSIONS", 2),
			HelperPath:         getEnv("EXTRACT_HELPER_PATH", "/app/helpers"),
			PythonPath:         getEnv("EXTRACT_PYTHON_PATH", "python3"),
			MaxDuration:        getEnvAsDuration("EXTRACT_MAX_VIDEO_DURATION", 4*time.Hour),
		},

		Jobs: JobsConfig{
			Workers:          getEnvAsInt("JOB_WORKERS", 4),
			QueueDepth:       getEnvAsInt("JOB_QUEUE_DEPTH", 64),
			MaxRetries:       getEnvAsInt("JOB_MAX_RETRIES", 2),
			RetryBackoffBase: getEnvAsDuration("JOB_RETRY_BACKOFF", 2*time.Second),
			LivenessDeadline: getEnvAsDuration("JOB_LIVENESS_DEADLINE", 2*time.Minute),
			ReaperInterval:   getEnvAsDuration("JOB_REAPER_INTERVAL", 30*time.Second),
			JobTimeout:       getEnvAsDuration("JOB_TIMEOUT", 10*time.Minute),
			Retention:        getEnvAsDuration("JOB_RETENTION", 2*time.Hour),
		},

		Analysis: AnalysisConfig{
			FrameworkTimeout: getEnvAsDuration("ANALYSIS_FRAMEWORK_TIMEOUT", 60*time.Second),
			MaxRetries:       getEnvAsInt("ANALYSIS_MAX_RETRIES", 2),
			RetryBackoff:     getEnvAsDuration("ANALYSIS_RETRY_BACKOFF", time.Second),
			MaxConcurrent:    getEnvAsInt("ANALYSIS_MAX_CONCURRENT", 5),
			TopN:             getEnvAsInt("ANALYSIS_TOP_RECOMMENDATIONS", 10),
			InvokesPerMinute: getEnvAsInt("ANALYSIS_INVOKES_PER_MINUTE", 30),
		},

		Workflow: WorkflowConfig{
			PollInterval:   getEnvAsDuration("WORKFLOW_POLL_INTERVAL", 5*time.Second),
			MaxAttempts:    getEnvAsInt("WORKFLOW_MAX_ATTEMPTS", 120),
			StuckThreshold: getEnvAsInt("WORKFLOW_STUCK_THRESHOLD", 3),
			Retention:      getEnvAsDuration("WORKFLOW_RETENTION", 2*time.Hour),
		},

		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			WhisperModel: getEnv("OPENAI_WHISPER_MODEL", "whisper-1"),
			ChatModel:    getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		},

		Archive: ArchiveConfig{
			Enabled:   getEnvAsBool("ARCHIVE_ENABLED", false),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
			Region:    getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			Bucket:    getEnv("ARCHIVE_BUCKET", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workflow.StuckThreshold < 1 {
		return fmt.Errorf("WORKFLOW_STUCK_THRESHOLD must be at least 1")
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("WORKFLOW_MAX_ATTEMPTS must be at least 1")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1")
	}
	if c.Extraction.BrowserSessions < 1 {
		return fmt.Errorf("EXTRACT_BROWSER_SESSIONS must be at least 1")
	}
	if !c.Extraction.EnableCaptionsAPI && !c.Extraction.EnableBrowser && !c.Extraction.EnableSpeechToText {
		return fmt.Errorf("at least one extraction strategy must be enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
