package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Perception   PerceptionConfig   `json:"perception"`
	Conversation ConversationConfig `json:"conversation"`
	Memory       MemoryConfig       `json:"memory"`
	Provider     ProviderConfig     `json:"provider"`
	Sensors      SensorsConfig      `json:"sensors"`
	Display      DisplayConfig      `json:"display"`
	Speech       SpeechConfig       `json:"speech"`
	Faces        FacesConfig        `json:"faces"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	mu           sync.RWMutex
}

type PerceptionConfig struct {
	HistorySize             int      `json:"history_size" env:"DOTCOMPANION_PERCEPTION_HISTORY_SIZE"`
	PollIntervalMS          int      `json:"poll_interval_ms" env:"DOTCOMPANION_PERCEPTION_POLL_INTERVAL_MS"`
	PublishIntervalMS       int      `json:"publish_interval_ms" env:"DOTCOMPANION_PERCEPTION_PUBLISH_INTERVAL_MS"`
	CameraBackoffMS         int      `json:"camera_backoff_ms" env:"DOTCOMPANION_PERCEPTION_CAMERA_BACKOFF_MS"`
	SpeechStabilitySeconds  float64  `json:"speech_stability_seconds" env:"DOTCOMPANION_PERCEPTION_SPEECH_STABILITY_SECONDS"`
	MinWords                int      `json:"min_words" env:"DOTCOMPANION_PERCEPTION_MIN_WORDS"`
	TrackingDistance        float64  `json:"tracking_distance" env:"DOTCOMPANION_PERCEPTION_TRACKING_DISTANCE"`
	Placeholders            []string `json:"placeholders" env:"DOTCOMPANION_PERCEPTION_PLACEHOLDERS" envSeparator:","`
	UnknownIdentity         string   `json:"unknown_identity" env:"DOTCOMPANION_PERCEPTION_UNKNOWN_IDENTITY"`
	SpeechFragmentQueueSize int      `json:"speech_fragment_queue_size" env:"DOTCOMPANION_PERCEPTION_SPEECH_QUEUE_SIZE"`
}

type ConversationConfig struct {
	AssistantName          string `json:"assistant_name" env:"DOTCOMPANION_CONVERSATION_ASSISTANT_NAME"`
	TriggerWord            string `json:"trigger_word" env:"DOTCOMPANION_CONVERSATION_TRIGGER_WORD"`
	TimeoutSeconds         int    `json:"timeout_seconds" env:"DOTCOMPANION_CONVERSATION_TIMEOUT_SECONDS"`
	GreetingCooldownSecs   int    `json:"greeting_cooldown_seconds" env:"DOTCOMPANION_CONVERSATION_GREETING_COOLDOWN_SECONDS"`
	TickIntervalMS         int    `json:"tick_interval_ms" env:"DOTCOMPANION_CONVERSATION_TICK_INTERVAL_MS"`
	AwakeCron              string `json:"awake_cron" env:"DOTCOMPANION_CONVERSATION_AWAKE_CRON"`
	ConsoleUserName        string `json:"console_user_name" env:"DOTCOMPANION_CONVERSATION_CONSOLE_USER_NAME"`
	RegistrationShots      int    `json:"registration_shots" env:"DOTCOMPANION_CONVERSATION_REGISTRATION_SHOTS"`
	RegistrationIntervalMS int    `json:"registration_interval_ms" env:"DOTCOMPANION_CONVERSATION_REGISTRATION_INTERVAL_MS"`
}

type MemoryConfig struct {
	Dir                 string `json:"dir" env:"DOTCOMPANION_MEMORY_DIR"`
	ShortTermCapacity   int    `json:"short_term_capacity" env:"DOTCOMPANION_MEMORY_SHORT_TERM_CAPACITY"`
	RecentTurns         int    `json:"recent_turns" env:"DOTCOMPANION_MEMORY_RECENT_TURNS"`
	EmotionContextTurns int    `json:"emotion_context_turns" env:"DOTCOMPANION_MEMORY_EMOTION_CONTEXT_TURNS"`
	RecallResults       int    `json:"recall_results" env:"DOTCOMPANION_MEMORY_RECALL_RESULTS"`
	LongTermSearchLimit int    `json:"long_term_search_limit" env:"DOTCOMPANION_MEMORY_LONG_TERM_SEARCH_LIMIT"`
	EmbeddingModel      string `json:"embedding_model" env:"DOTCOMPANION_MEMORY_EMBEDDING_MODEL"`
}

type ProviderConfig struct {
	APIBase             string  `json:"api_base" env:"DOTCOMPANION_PROVIDER_API_BASE"`
	APIKey              string  `json:"api_key" env:"DOTCOMPANION_PROVIDER_API_KEY"`
	Model               string  `json:"model" env:"DOTCOMPANION_PROVIDER_MODEL"`
	TimeoutSeconds      int     `json:"timeout_seconds" env:"DOTCOMPANION_PROVIDER_TIMEOUT_SECONDS"`
	ResponseMaxTokens   int     `json:"response_max_tokens" env:"DOTCOMPANION_PROVIDER_RESPONSE_MAX_TOKENS"`
	ResponseTemperature float64 `json:"response_temperature" env:"DOTCOMPANION_PROVIDER_RESPONSE_TEMPERATURE"`
	DeciderMaxTokens    int     `json:"decider_max_tokens" env:"DOTCOMPANION_PROVIDER_DECIDER_MAX_TOKENS"`
	EmotionMaxTokens    int     `json:"emotion_max_tokens" env:"DOTCOMPANION_PROVIDER_EMOTION_MAX_TOKENS"`
}

type SensorsConfig struct {
	VisionURL        string `json:"vision_url" env:"DOTCOMPANION_SENSORS_VISION_URL"`
	SpeechURL        string `json:"speech_url" env:"DOTCOMPANION_SENSORS_SPEECH_URL"`
	CameraIndex      int    `json:"camera_index" env:"DOTCOMPANION_SENSORS_CAMERA_INDEX"`
	RequestTimeoutMS int    `json:"request_timeout_ms" env:"DOTCOMPANION_SENSORS_REQUEST_TIMEOUT_MS"`
}

type DisplayConfig struct {
	URL       string            `json:"url" env:"DOTCOMPANION_DISPLAY_URL"`
	QueueSize int               `json:"queue_size" env:"DOTCOMPANION_DISPLAY_QUEUE_SIZE"`
	Emotions  []string          `json:"emotions" env:"DOTCOMPANION_DISPLAY_EMOTIONS" envSeparator:","`
	Aliases   map[string]string `json:"aliases"`
}

type SpeechConfig struct {
	Command []string `json:"command" env:"DOTCOMPANION_SPEECH_COMMAND" envSeparator:" "`
	Suffix  string   `json:"suffix" env:"DOTCOMPANION_SPEECH_SUFFIX"`
}

type FacesConfig struct {
	Dir            string  `json:"dir" env:"DOTCOMPANION_FACES_DIR"`
	MatchThreshold float64 `json:"match_threshold" env:"DOTCOMPANION_FACES_MATCH_THRESHOLD"`
	CacheSeconds   int     `json:"cache_seconds" env:"DOTCOMPANION_FACES_CACHE_SECONDS"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"DOTCOMPANION_LOGGING_LEVEL"`
	File  string `json:"file" env:"DOTCOMPANION_LOGGING_FILE"`
	JSON  bool   `json:"json" env:"DOTCOMPANION_LOGGING_JSON"`
}

type MetricsConfig struct {
	Addr string `json:"addr" env:"DOTCOMPANION_METRICS_ADDR"`
}

func DefaultConfig() *Config {
	return &Config{
		Perception: PerceptionConfig{
			HistorySize:             15,
			PollIntervalMS:          30,
			PublishIntervalMS:       1000,
			CameraBackoffMS:         20,
			SpeechStabilitySeconds:  2.0,
			MinWords:                1,
			TrackingDistance:        0.8,
			Placeholders:            []string{"---", "impossible"},
			UnknownIdentity:         "unknown face",
			SpeechFragmentQueueSize: 64,
		},
		Conversation: ConversationConfig{
			AssistantName:          "Julie",
			TriggerWord:            "julie",
			TimeoutSeconds:         120,
			GreetingCooldownSecs:   600,
			TickIntervalMS:         100,
			AwakeCron:              "* * * * *",
			ConsoleUserName:        "ConsoleUser",
			RegistrationShots:      5,
			RegistrationIntervalMS: 1500,
		},
		Memory: MemoryConfig{
			Dir:                 "~/.dotcompanion/memory",
			ShortTermCapacity:   100,
			RecentTurns:         3,
			EmotionContextTurns: 3,
			RecallResults:       3,
			LongTermSearchLimit: 3,
			EmbeddingModel:      "chargram-384-v1",
		},
		Provider: ProviderConfig{
			APIBase:             "http://127.0.0.1:8080/v1",
			Model:               "gemma-3-4b-it",
			TimeoutSeconds:      120,
			ResponseMaxTokens:   250,
			ResponseTemperature: 0.65,
			DeciderMaxTokens:    100,
			EmotionMaxTokens:    30,
		},
		Sensors: SensorsConfig{
			VisionURL:        "http://127.0.0.1:8765",
			SpeechURL:        "ws://127.0.0.1:2700",
			CameraIndex:      0,
			RequestTimeoutMS: 500,
		},
		Display: DisplayConfig{
			QueueSize: 32,
			Emotions:  []string{"neutral", "joy", "sadness", "anger", "surprise", "fear", "disgust"},
			Aliases: map[string]string{
				"degout":    "disgust",
				"dégout":    "disgust",
				"dégoût":    "disgust",
				"joie":      "joy",
				"neutre":    "neutral",
				"colère":    "anger",
				"colere":    "anger",
				"peur":      "fear",
				"tristesse": "sadness",
			},
		},
		Speech: SpeechConfig{
			Command: []string{"espeak-ng", "--stdin"},
			Suffix:  "...",
		},
		Faces: FacesConfig{
			Dir:            "~/.dotcompanion/faces",
			MatchThreshold: 0.7,
			CacheSeconds:   30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig layers the JSON file at path and then DOTCOMPANION_* variables
// over DefaultConfig. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.Perception.HistorySize <= 0:
		return fmt.Errorf("perception.history_size must be positive")
	case c.Perception.PollIntervalMS <= 0:
		return fmt.Errorf("perception.poll_interval_ms must be positive")
	case c.Perception.SpeechStabilitySeconds <= 0:
		return fmt.Errorf("perception.speech_stability_seconds must be positive")
	case c.Conversation.TimeoutSeconds <= 0:
		return fmt.Errorf("conversation.timeout_seconds must be positive")
	case c.Conversation.GreetingCooldownSecs < 0:
		return fmt.Errorf("conversation.greeting_cooldown_seconds must not be negative")
	case c.Conversation.TriggerWord == "":
		return fmt.Errorf("conversation.trigger_word is required")
	case c.Memory.ShortTermCapacity <= 0:
		return fmt.Errorf("memory.short_term_capacity must be positive")
	}
	if expr := strings.TrimSpace(c.Conversation.AwakeCron); expr != "" && !gronx.New().IsValid(expr) {
		return fmt.Errorf("conversation.awake_cron %q is not a valid cron expression", expr)
	}
	return nil
}

func (c *Config) MemoryDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Memory.Dir)
}

func (c *Config) FacesDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Faces.Dir)
}

func (p PerceptionConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

func (p PerceptionConfig) PublishInterval() time.Duration {
	return time.Duration(p.PublishIntervalMS) * time.Millisecond
}

func (p PerceptionConfig) CameraBackoff() time.Duration {
	return time.Duration(p.CameraBackoffMS) * time.Millisecond
}

func (p PerceptionConfig) SpeechStability() time.Duration {
	return time.Duration(p.SpeechStabilitySeconds * float64(time.Second))
}

func (s SensorsConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

func (c ConversationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ConversationConfig) GreetingCooldown() time.Duration {
	return time.Duration(c.GreetingCooldownSecs) * time.Second
}

func (c ConversationConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c ConversationConfig) RegistrationInterval() time.Duration {
	return time.Duration(c.RegistrationIntervalMS) * time.Millisecond
}

func (f FacesConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
