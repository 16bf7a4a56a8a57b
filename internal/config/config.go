// Package config loads and validates the callassist configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Topology controls how call setup bridges the two parties.
type Topology string

const (
	// TopologyConference places both legs into a shared conference so
	// assistant audio can be announced to every participant.
	TopologyConference Topology = "conference"

	// TopologyDirect bridges the caller straight to the callee.
	TopologyDirect Topology = "direct"
)

// GateMode selects the turn-worthiness filter for transcription fragments.
type GateMode string

const (
	// GateParity reacts to final fragments with an even sequence number.
	GateParity GateMode = "parity"

	// GateMonotonic reacts to any final fragment newer than the last handled one.
	GateMonotonic GateMode = "monotonic"
)

// Config is the main configuration structure for callassist.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Twilio       TwilioConfig       `yaml:"twilio"`
	ElevenLabs   ElevenLabsConfig   `yaml:"elevenlabs"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Conversation ConversationConfig `yaml:"conversation"`
	Journal      JournalConfig      `yaml:"journal"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicURL is the externally reachable base URL Twilio calls back on,
	// e.g. an ngrok tunnel. Webhook and asset URLs are built from it.
	PublicURL string `yaml:"public_url"`

	// AssetDir holds the synthesized audio slot served over HTTP.
	AssetDir string `yaml:"asset_dir"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	BaseURL    string `yaml:"base_url"`

	// CallerID is the registered outbound number used for PSTN recipients.
	CallerID string `yaml:"caller_id"`

	// ValidateSignatures rejects webhooks without a valid X-Twilio-Signature.
	ValidateSignatures bool `yaml:"validate_signatures"`

	Timeout time.Duration `yaml:"timeout"`
}

type ElevenLabsConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	DefaultVoiceID  string        `yaml:"default_voice_id"`
	ModelID         string        `yaml:"model_id"`
	OutputFormat    string        `yaml:"output_format"`
	Stability       float64       `yaml:"stability"`
	SimilarityBoost float64       `yaml:"similarity_boost"`
	AssetName       string        `yaml:"asset_name"`
	Timeout         time.Duration `yaml:"timeout"`
}

type OpenAIConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ConversationConfig struct {
	Topology Topology `yaml:"topology"`

	// ConferenceName is the well-known conference every transcribed call joins.
	ConferenceName string `yaml:"conference_name"`

	GateMode       GateMode      `yaml:"gate_mode"`
	DebounceWindow time.Duration `yaml:"debounce_window"`

	// GatherTimeout is the silence timeout in seconds for single-utterance gathers.
	GatherTimeout int `yaml:"gather_timeout"`

	// PauseSeconds is the dead air appended after playback on a call leg.
	// Unset defaults to 2; 0 disables the pause.
	PauseSeconds *int `yaml:"pause_seconds"`

	// GatherLoop enables the post-dial single-utterance loop.
	GatherLoop bool `yaml:"gather_loop"`

	SessionRetention time.Duration `yaml:"session_retention"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// Default returns a Config with every default applied and no credentials.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads, expands, decodes and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credentials that were left empty from the environment.
func (c *Config) applyEnv() {
	if c.Twilio.AccountSID == "" {
		c.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.CallerID == "" {
		c.Twilio.CallerID = os.Getenv("TWILIO_CALLER_ID")
	}
	if c.ElevenLabs.APIKey == "" {
		c.ElevenLabs.APIKey = os.Getenv("ELEVEN_LABS_API_KEY")
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// ApplyDefaults applies default values to empty config fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3030
	}
	if c.Server.AssetDir == "" {
		c.Server.AssetDir = "public"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Twilio.BaseURL == "" {
		c.Twilio.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if c.Twilio.Timeout == 0 {
		c.Twilio.Timeout = 30 * time.Second
	}

	if c.ElevenLabs.BaseURL == "" {
		c.ElevenLabs.BaseURL = "https://api.elevenlabs.io"
	}
	if c.ElevenLabs.DefaultVoiceID == "" {
		c.ElevenLabs.DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if c.ElevenLabs.ModelID == "" {
		c.ElevenLabs.ModelID = "eleven_monolingual_v1"
	}
	if c.ElevenLabs.OutputFormat == "" {
		c.ElevenLabs.OutputFormat = "mp3_44100_128"
	}
	if c.ElevenLabs.Stability == 0 {
		c.ElevenLabs.Stability = 0.5
	}
	if c.ElevenLabs.SimilarityBoost == 0 {
		c.ElevenLabs.SimilarityBoost = 0.75
	}
	if c.ElevenLabs.AssetName == "" {
		c.ElevenLabs.AssetName = "voice.mp3"
	}
	if c.ElevenLabs.Timeout == 0 {
		c.ElevenLabs.Timeout = 30 * time.Second
	}

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 30 * time.Second
	}

	if c.Conversation.Topology == "" {
		c.Conversation.Topology = TopologyConference
	}
	if c.Conversation.ConferenceName == "" {
		c.Conversation.ConferenceName = "GatherConferenceRoom"
	}
	if c.Conversation.GateMode == "" {
		c.Conversation.GateMode = GateParity
	}
	if c.Conversation.GatherTimeout == 0 {
		c.Conversation.GatherTimeout = 2
	}
	if c.Conversation.PauseSeconds == nil {
		pause := 2
		c.Conversation.PauseSeconds = &pause
	}
	if c.Conversation.SessionRetention == 0 {
		c.Conversation.SessionRetention = time.Hour
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "callassist.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate reports configuration values that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if c.Server.PublicURL != "" && !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("server.public_url: must be an http(s) URL"))
	}
	switch c.Conversation.Topology {
	case TopologyConference, TopologyDirect:
	default:
		errs = append(errs, fmt.Errorf("conversation.topology: unknown value %q", c.Conversation.Topology))
	}
	switch c.Conversation.GateMode {
	case GateParity, GateMonotonic:
	default:
		errs = append(errs, fmt.Errorf("conversation.gate_mode: unknown value %q", c.Conversation.GateMode))
	}
	if c.Conversation.DebounceWindow < 0 {
		errs = append(errs, errors.New("conversation.debounce_window: must not be negative"))
	}
	if c.Conversation.PauseSeconds != nil && *c.Conversation.PauseSeconds < 0 {
		errs = append(errs, errors.New("conversation.pause_seconds: must not be negative"))
	}
	if c.Conversation.GatherTimeout < 0 {
		errs = append(errs, errors.New("conversation.gather_timeout: must not be negative"))
	}
	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("twilio.validate_signatures: requires twilio.auth_token"))
	}
	if c.ElevenLabs.Stability < 0 || c.ElevenLabs.Stability > 1 {
		errs = append(errs, errors.New("elevenlabs.stability: must be within [0,1]"))
	}
	if c.ElevenLabs.SimilarityBoost < 0 || c.ElevenLabs.SimilarityBoost > 1 {
		errs = append(errs, errors.New("elevenlabs.similarity_boost: must be within [0,1]"))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, errors.New("tracing.sampling_rate: must be within [0,1]"))
	}

	return errors.Join(errs...)
}

// Pause returns the configured pause after call-leg playback in seconds.
func (c ConversationConfig) Pause() int {
	if c.PauseSeconds == nil {
		return 0
	}
	return *c.PauseSeconds
}

// PublicURLFor joins a path onto the configured public URL.
func (c *Config) PublicURLFor(path string) string {
	base := strings.TrimRight(c.Server.PublicURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
