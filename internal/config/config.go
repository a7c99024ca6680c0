package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultExternalHTTPTimeoutSeconds = 30
	defaultListenAddr                 = ":8000"
	defaultTranscriptsDir             = "./transcripts"
	defaultDBPath                     = "./patientbot.db"
	defaultReportOutputDir            = "."
	defaultMaxTurns                   = 8
	defaultGeneratorMaxAttempts       = 3
	defaultGeneratorRetryBackoffMS    = 500
	defaultLLMMaxTokens               = 100
	defaultVoice                      = "Polly.Joanna"
	defaultLanguage                   = "en-US"
)

type Config struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	LLMModel        string `yaml:"llm_model"`
	LLMMaxTokens    int    `yaml:"llm_max_tokens"`

	PublicURL  string `yaml:"public_url"`
	ListenAddr string `yaml:"listen_addr"`
	Voice      string `yaml:"voice"`
	Language   string `yaml:"language"`

	TranscriptsDir  string `yaml:"transcripts_dir"`
	DBPath          string `yaml:"db_path"`
	ReportOutputDir string `yaml:"report_output_dir"`

	MaxTurns                   int `yaml:"max_turns"`
	GeneratorMaxAttempts       int `yaml:"generator_max_attempts"`
	GeneratorRetryBackoffMS    int `yaml:"generator_retry_backoff_ms"`
	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	SlackBotToken    string `yaml:"slack_bot_token"`
	ReportChannelID  string `yaml:"report_channel_id"`
	AnalysisSchedule string `yaml:"analysis_schedule"`
	Timezone         string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig loads everything the call-serving process needs and exits on
// missing or invalid settings.
func LoadConfig() Config {
	cfg := load()

	required := map[string]string{
		"anthropic_api_key": cfg.AnthropicAPIKey,
		"public_url":        cfg.PublicURL,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}
	if !strings.HasPrefix(cfg.PublicURL, "http://") && !strings.HasPrefix(cfg.PublicURL, "https://") {
		log.Fatalf("invalid public_url '%s': must start with http:// or https://", cfg.PublicURL)
	}
	return cfg
}

// LoadAnalyzeConfig is LoadConfig for the offline analyzer; none of the
// call-serving keys are required.
func LoadAnalyzeConfig() Config {
	return load()
}

func load() Config {
	var cfg Config

	envFile := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		envFile = p
	}
	if err := godotenv.Load(envFile); err == nil {
		log.Printf("Loaded env from %s", envFile)
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverride(&cfg.PublicURL, "PUBLIC_URL")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.Voice, "TWIML_VOICE")
	envOverride(&cfg.Language, "TWIML_LANGUAGE")
	envOverride(&cfg.TranscriptsDir, "TRANSCRIPTS_DIR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverrideInt(&cfg.MaxTurns, "MAX_TURNS")
	envOverrideInt(&cfg.GeneratorMaxAttempts, "GENERATOR_MAX_ATTEMPTS")
	envOverrideInt(&cfg.GeneratorRetryBackoffMS, "GENERATOR_RETRY_BACKOFF_MS")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.AnalysisSchedule, "ANALYSIS_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = defaultLLMMaxTokens
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.TranscriptsDir == "" {
		cfg.TranscriptsDir = defaultTranscriptsDir
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = defaultReportOutputDir
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.GeneratorMaxAttempts == 0 {
		cfg.GeneratorMaxAttempts = defaultGeneratorMaxAttempts
	}
	if cfg.GeneratorRetryBackoffMS == 0 {
		cfg.GeneratorRetryBackoffMS = defaultGeneratorRetryBackoffMS
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.MaxTurns < 1 {
		log.Fatalf("invalid max_turns '%d': must be >= 1", cfg.MaxTurns)
	}
	if cfg.GeneratorMaxAttempts < 1 {
		log.Fatalf("invalid generator_max_attempts '%d': must be >= 1", cfg.GeneratorMaxAttempts)
	}
	if cfg.GeneratorRetryBackoffMS < 0 {
		log.Fatalf("invalid generator_retry_backoff_ms '%d': must be >= 0", cfg.GeneratorRetryBackoffMS)
	}
	if cfg.LLMMaxTokens < 1 {
		log.Fatalf("invalid llm_max_tokens '%d': must be >= 1", cfg.LLMMaxTokens)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.ReportChannelID != "" && cfg.SlackBotToken == "" {
		log.Fatalf("report_channel_id is set but slack_bot_token is not")
	}
	if s := strings.TrimSpace(cfg.AnalysisSchedule); s != "" {
		if _, err := ParseSchedule(s); err != nil {
			log.Fatalf("invalid analysis_schedule '%s': %v", s, err)
		}
	}

	return cfg
}

// ParseSchedule accepts a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(spec))
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func (c Config) GeneratorRetryBackoff() time.Duration {
	return time.Duration(c.GeneratorRetryBackoffMS) * time.Millisecond
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
