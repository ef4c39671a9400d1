package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] when the corresponding field is unset.
const (
	DefaultRateWindowSeconds    = 3600
	DefaultRateMaxCalls         = 3
	DefaultMaxTurns             = 20
	DefaultCallbackDelaySeconds = 300
	DefaultMissedCallSeconds    = 5
	DefaultSentimentModel       = "gpt-4o-mini"
	DefaultLanguage             = "hi-IN"
)

// DefaultGreeting is the neutral multilingual opening line used when
// agent.greeting is not configured. Spoken before the language lock, so it
// invites the caller to answer in any supported language.
const DefaultGreeting = "Hello! Namaste! I'm your virtual receptionist. You can speak in any Indian language."

// Default per-unit cost rates (USD), matching the vendor list prices the
// estimator was calibrated against.
const (
	DefaultSTTPerMinute         = 0.002
	DefaultTTSPerMinute         = 0.006
	DefaultLLMOutPerKiloChar    = 0.003
	DefaultLLMInPerFourKiloChar = 0.0001
)

// DefaultLanguages is the built-in supported-language table: language code to
// voice profile. Used when languages.supported is not configured.
var DefaultLanguages = map[string]LanguageProfile{
	"hi-IN": {Name: "Hindi", Speaker: "rohan"},
	"bn-IN": {Name: "Bengali", Speaker: "arnav"},
	"ta-IN": {Name: "Tamil", Speaker: "pavithra"},
	"te-IN": {Name: "Telugu", Speaker: "ananya"},
	"gu-IN": {Name: "Gujarati", Speaker: "avni"},
	"kn-IN": {Name: "Kannada", Speaker: "suresh"},
	"ml-IN": {Name: "Malayalam", Speaker: "aswin"},
	"mr-IN": {Name: "Marathi", Speaker: "aarohi"},
	"pa-IN": {Name: "Punjabi", Speaker: "gurpreet"},
	"od-IN": {Name: "Odia", Speaker: "subhashini"},
	"en-IN": {Name: "English", Speaker: "anushka"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with the package defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Limits.RateWindowSeconds <= 0 {
		cfg.Limits.RateWindowSeconds = DefaultRateWindowSeconds
	}
	if cfg.Limits.RateMaxCalls <= 0 {
		cfg.Limits.RateMaxCalls = DefaultRateMaxCalls
	}
	if cfg.Limits.MaxTurns <= 0 {
		cfg.Limits.MaxTurns = DefaultMaxTurns
	}
	if cfg.Limits.CallbackDelaySeconds <= 0 {
		cfg.Limits.CallbackDelaySeconds = DefaultCallbackDelaySeconds
	}
	if cfg.Limits.MissedCallSeconds <= 0 {
		cfg.Limits.MissedCallSeconds = DefaultMissedCallSeconds
	}
	if cfg.Cost.STTPerMinute == 0 {
		cfg.Cost.STTPerMinute = DefaultSTTPerMinute
	}
	if cfg.Cost.TTSPerMinute == 0 {
		cfg.Cost.TTSPerMinute = DefaultTTSPerMinute
	}
	if cfg.Cost.LLMOutPerKiloChar == 0 {
		cfg.Cost.LLMOutPerKiloChar = DefaultLLMOutPerKiloChar
	}
	if cfg.Cost.LLMInPerFourKiloChar == 0 {
		cfg.Cost.LLMInPerFourKiloChar = DefaultLLMInPerFourKiloChar
	}
	if cfg.Sentiment.Model == "" {
		cfg.Sentiment.Model = DefaultSentimentModel
	}
	if cfg.Agent.Greeting == "" {
		cfg.Agent.Greeting = DefaultGreeting
	}
	if cfg.Languages.Default == "" {
		cfg.Languages.Default = DefaultLanguage
	}
	if len(cfg.Languages.Supported) == 0 {
		cfg.Languages.Supported = DefaultLanguages
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing credentials are hard errors here so that a misconfigured service
// fails fast instead of discovering the gap mid-call.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Media.GatewayURL == "" {
		errs = append(errs, errors.New("media.gateway_url is required"))
	} else if !strings.HasPrefix(cfg.Media.GatewayURL, "http://") && !strings.HasPrefix(cfg.Media.GatewayURL, "https://") {
		errs = append(errs, fmt.Errorf("media.gateway_url %q must start with http:// or https://", cfg.Media.GatewayURL))
	}
	if cfg.Media.APIKey == "" {
		errs = append(errs, errors.New("media.api_key is required"))
	}
	if cfg.Media.APISecret == "" {
		errs = append(errs, errors.New("media.api_secret is required"))
	}
	if cfg.Media.Recording.Enabled && cfg.Media.Recording.PublicBaseURL == "" {
		errs = append(errs, errors.New("media.recording.public_base_url is required when recording is enabled"))
	}

	if cfg.Calendar.BaseURL != "" && cfg.Calendar.APIKey == "" {
		errs = append(errs, errors.New("calendar.api_key is required when calendar.base_url is set"))
	}
	if cfg.Calendar.BaseURL == "" {
		slog.Warn("calendar.base_url is empty; booking intents will settle as failed")
	}

	if cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID == "" {
		errs = append(errs, errors.New("notify.telegram.chat_id is required when bot_token is set"))
	}
	if cfg.Notify.Discord.Token != "" && cfg.Notify.Discord.ChannelID == "" {
		errs = append(errs, errors.New("notify.discord.channel_id is required when token is set"))
	}
	if cfg.Notify.Telegram.BotToken == "" && cfg.Notify.Discord.Token == "" {
		slog.Warn("no notification channel configured; operator notifications will be dropped")
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; call records will not be persisted")
	}

	if cfg.Sentiment.APIKey == "" {
		slog.Warn("sentiment.api_key is empty; settled calls will carry sentiment \"unknown\"")
	}

	if _, ok := cfg.Languages.Supported[cfg.Languages.Default]; !ok {
		errs = append(errs, fmt.Errorf("languages.default %q is not present in languages.supported", cfg.Languages.Default))
	}
	for code, prof := range cfg.Languages.Supported {
		if prof.Speaker == "" {
			errs = append(errs, fmt.Errorf("languages.supported[%s].speaker is required", code))
		}
		if prof.Name == "" {
			errs = append(errs, fmt.Errorf("languages.supported[%s].name is required", code))
		}
	}

	return errors.Join(errs...)
}
