package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Ai        AIConfig
	Workflow  WorkflowConfig
	Memory    MemoryConfig
	Storage   StorageConfig
	Sources   SourcesConfig
	Messaging MessagingConfig
	Tracing   TracingConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	BodyLimitMB        int
	SessionTTL         time.Duration
}

type DatabaseConfig struct {
	// Connection is optional; transcripts are not persisted without it.
	Connection string
}

type AIConfig struct {
	LLMProvider string // "ollama", "huggingface", "openai", "bedrock"
	LLMModel    string
	BaseURL     string
	APIKey      string
	Region      string
	Timeout     time.Duration
	// ContextWindow sizes the retrieved-data guard, in tokens.
	ContextWindow int
}

type WorkflowConfig struct {
	TurnTimeout       time.Duration
	HandlerTimeout    time.Duration
	MaxRetries        int
	MaxHops           int
	SandboxTimeout    time.Duration
	StructuredRetries int
	EvaluateAnswers   bool
}

type MemoryConfig struct {
	IntentBudget   int
	SourceBudget   int
	TokenizerModel string
}

type StorageConfig struct {
	Driver        string // "s3" or "afs"
	Bucket        string
	Region        string
	Prefix        string
	PresignExpiry time.Duration
	AfsBaseURL    string
	PublicBaseURL string
}

type SourcesConfig struct {
	PDCURL string
	GDCURL string
	IDCURL string
	PXURL  string
	MWBURL string
}

type MessagingConfig struct {
	NatsURL  string
	RedisURL string
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type AuthConfig struct {
	// JWTSecret enables bearer authentication on the API when set.
	JWTSecret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	port := getEnv("APP_PORT", "3000")
	return &Config{
		App: AppConfig{
			Port:               port,
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:"+port),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log.json"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			BodyLimitMB:        getEnvAsInt("BODY_LIMIT_MB", 25),
			SessionTTL:         getEnvAsDuration("SESSION_TTL", 12*time.Hour),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:      getEnv("LLM_MODEL", "llama3"),
			BaseURL:       getEnv("LLM_BASE_URL", "http://localhost:11434"),
			APIKey:        getEnv("LLM_API_KEY", ""),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Timeout:       getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			ContextWindow: getEnvAsInt("LLM_CONTEXT_WINDOW", 128000),
		},
		Workflow: WorkflowConfig{
			TurnTimeout:       getEnvAsDuration("TURN_TIMEOUT", 400*time.Second),
			HandlerTimeout:    getEnvAsDuration("HANDLER_TIMEOUT", 120*time.Second),
			MaxRetries:        getEnvAsInt("MAX_RETRIES", 2),
			MaxHops:           getEnvAsInt("MWB_MAX_HOPS", 6),
			SandboxTimeout:    getEnvAsDuration("SANDBOX_TIMEOUT", 10*time.Second),
			StructuredRetries: getEnvAsInt("STRUCTURED_RETRIES", 2),
			EvaluateAnswers:   getEnvAsBool("EVALUATE_ANSWERS", true),
		},
		Memory: MemoryConfig{
			IntentBudget:   getEnvAsInt("INTENT_MEMORY_TOKENS", 300000),
			SourceBudget:   getEnvAsInt("SOURCE_MEMORY_TOKENS", 100000),
			TokenizerModel: getEnv("TOKENIZER_MODEL", "gpt-4o"),
		},
		Storage: StorageConfig{
			Driver:        getEnv("STORAGE_DRIVER", "afs"),
			Bucket:        getEnv("S3_BUCKET", ""),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Prefix:        getEnv("S3_PREFIX", ""),
			PresignExpiry: getEnvAsDuration("PRESIGN_EXPIRY", 604800*time.Second),
			AfsBaseURL:    getEnv("AFS_BASE_URL", "file:///tmp/bioinsight"),
			PublicBaseURL: getEnv("PUBLIC_BLOB_URL", "http://localhost:"+port+"/api/blobs"),
		},
		Sources: SourcesConfig{
			PDCURL: getEnv("PDC_URL", "https://proteomic.datacommons.cancer.gov/graphql"),
			GDCURL: getEnv("GDC_URL", "https://api.gdc.cancer.gov"),
			IDCURL: getEnv("IDC_URL", "https://api.imaging.datacommons.cancer.gov/v2"),
			PXURL:  getEnv("PX_URL", "https://www.ebi.ac.uk/pride/ws/archive/v3"),
			MWBURL: getEnv("MWB_URL", "https://www.metabolomicsworkbench.org/rest"),
		},
		Messaging: MessagingConfig{
			NatsURL:  getEnv("NATS_URL", ""),
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
