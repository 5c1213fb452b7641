package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Storage     StorageConfig
	Cloud       CloudConfig
	Clova       ClovaConfig
	Gemini      GeminiConfig
	Recognition RecognitionConfig
	Dispatcher  DispatcherConfig

	DatabaseURL string `env:"DATABASE_URL"`

	// Target selects the provider path the worker submits merged audio to.
	Target     string `env:"STT_TARGET" envDefault:"clova"`
	Completion string `env:"STT_COMPLETION" envDefault:"sync"`

	StartURL    string `env:"STT_START_URL" envDefault:"http://localhost:3000/api/stt/start"`
	WorkerToken string `env:"STT_WORKER_TOKEN"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"dialogue-stt"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"stt"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	Debug     bool   `env:"STT_DEBUG" envDefault:"false"`
}

// StorageConfig describes where chunk objects live.
// Backend is "supabase" (Storage REST API), "s3" (any S3-compatible endpoint)
// or "local" (filesystem, for development and tests).
type StorageConfig struct {
	Backend            string `env:"STORAGE_BACKEND" envDefault:"supabase"`
	Bucket             string `env:"SUPABASE_STT_BUCKET" envDefault:"audio-uploads"`
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	LocalDir string `env:"LOCAL_STORAGE_DIR" envDefault:"./storage"`
}

// CloudConfig holds credentials for the cloud long-running recognizer and the
// bucket merged audio is staged in before a job is started.
// GCS_BUCKET_NAME is read when CLOUD_STT_BUCKET is unset so existing
// deployment env files keep naming the staging bucket.
type CloudConfig struct {
	Bucket       string `env:"CLOUD_STT_BUCKET"`
	LegacyBucket string `env:"GCS_BUCKET_NAME"`
	Region       string `env:"CLOUD_STT_REGION" envDefault:"ap-northeast-2"`
	AccessKey    string `env:"CLOUD_STT_ACCESS_KEY"`
	SecretKey    string `env:"CLOUD_STT_SECRET_KEY"`
	Endpoint     string `env:"CLOUD_STT_ENDPOINT"`
}

func (c CloudConfig) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type ClovaConfig struct {
	InvokeURL   string        `env:"NAVER_CLOVA_INVOKE_URL"`
	SecretKey   string        `env:"NAVER_CLOVA_SECRET_KEY"`
	DomainCode  string        `env:"NAVER_CLOVA_DOMAIN_CODE"`
	CallbackURL string        `env:"NAVER_CLOVA_CALLBACK_URL"`
	Timeout     time.Duration `env:"NAVER_CLOVA_TIMEOUT" envDefault:"15m"`
}

func (c ClovaConfig) Enabled() bool {
	return c.InvokeURL != "" && c.SecretKey != ""
}

type GeminiConfig struct {
	APIKey string `env:"GEMINI_API_KEY"`
	Model  string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
}

func (c GeminiConfig) Enabled() bool { return c.APIKey != "" }

// RecognitionConfig is the raw recognizer tuning read from the environment.
// transcribe.NewRecognitionSettings applies defaults and clamping.
type RecognitionConfig struct {
	LanguageCode       string `env:"STT_LANGUAGE_CODE" envDefault:"ko-KR"`
	Model              string `env:"STT_MODEL"`
	SampleRateHertz    int    `env:"STT_SAMPLE_RATE_HERTZ" envDefault:"48000"`
	DiarizationEnabled bool   `env:"STT_DIARIZATION_ENABLED" envDefault:"true"`
	MinSpeakers        int    `env:"STT_DIARIZATION_MIN_SPEAKER"`
	MaxSpeakers        int    `env:"STT_DIARIZATION_MAX_SPEAKER"`
}

type DispatcherConfig struct {
	WorkerBin        string        `env:"STT_WORKER_BIN" envDefault:"stt-worker"`
	Concurrency      int           `env:"STT_WORKER_CONCURRENCY" envDefault:"2"`
	QueueSize        int           `env:"STT_WORKER_QUEUE" envDefault:"8"`
	JobTimeout       time.Duration `env:"STT_WORKER_TIMEOUT" envDefault:"30m"`
	WatchDir         string        `env:"STT_WATCH_DIR"`
	ScratchRetention time.Duration `env:"STT_SCRATCH_RETENTION" envDefault:"6h"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	Target   string
	StartURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
// Load never fails on missing credentials; call Validate with the binary's role.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.Target != "" {
		cfg.Target = overrides.Target
	}
	if overrides.StartURL != "" {
		cfg.StartURL = overrides.StartURL
	}

	if cfg.Cloud.Bucket == "" {
		cfg.Cloud.Bucket = strings.TrimSpace(cfg.Cloud.LegacyBucket)
	}
	cfg.Target = strings.ToLower(strings.TrimSpace(cfg.Target))
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	return cfg, nil
}
