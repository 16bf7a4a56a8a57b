// Package tts turns assistant replies into audio assets using the
// ElevenLabs text-to-speech API. The asset is written to a single fixed
// slot on disk and served to the telephony provider by URL.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("tts: text is empty")

	// ErrNoVoice is returned when no voice identity was resolved.
	ErrNoVoice = errors.New("tts: voice id is required")

	// ErrAudioTooLarge is returned when the synthesized audio exceeds
	// maxAudioBytes.
	ErrAudioTooLarge = errors.New("tts: audio exceeds size limit")
)

// maxAudioBytes caps one synthesized reply. A one-sentence reply at
// 128 kbps is well under 1 MiB.
var maxAudioBytes int64 = 16 << 20

// UpstreamSynthesisError reports a non-2xx response from ElevenLabs.
type UpstreamSynthesisError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamSynthesisError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tts: elevenlabs returned %d", e.StatusCode)
	}
	return fmt.Sprintf("tts: elevenlabs returned %d: %s", e.StatusCode, e.Message)
}

// Config configures the ElevenLabs gateway.
type Config struct {
	// APIKey is sent as the xi-api-key header.
	APIKey string

	// BaseURL defaults to https://api.elevenlabs.io.
	BaseURL string

	// ModelID is the synthesis model.
	// Default: "eleven_monolingual_v1"
	ModelID string

	// OutputFormat is the audio format query parameter.
	// Default: "mp3_44100_128"
	OutputFormat string

	// Stability controls voice stability (0.0 to 1.0).
	// Default: 0.5
	Stability float64

	// SimilarityBoost controls voice similarity (0.0 to 1.0).
	// Default: 0.75
	SimilarityBoost float64

	// AssetName is the fixed file name every synthesis overwrites.
	// Default: "voice.mp3"
	AssetName string

	// Timeout bounds each HTTP request.
	// Default: 30s
	Timeout time.Duration

	HTTPClient *http.Client
}

// Voice is one selectable ElevenLabs voice.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.elevenlabs.io",
		ModelID:         "eleven_monolingual_v1",
		OutputFormat:    "mp3_44100_128",
		Stability:       0.5,
		SimilarityBoost: 0.75,
		AssetName:       "voice.mp3",
		Timeout:         30 * time.Second,
	}
}

// ApplyDefaults applies default values to empty config fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	if c.ModelID == "" {
		c.ModelID = defaults.ModelID
	}
	if c.OutputFormat == "" {
		c.OutputFormat = defaults.OutputFormat
	}
	if c.Stability == 0 {
		c.Stability = defaults.Stability
	}
	if c.SimilarityBoost == 0 {
		c.SimilarityBoost = defaults.SimilarityBoost
	}
	if c.AssetName == "" {
		c.AssetName = defaults.AssetName
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
}

// Gateway talks to ElevenLabs.
//
// Thread Safety:
// Gateway is safe for concurrent use, but SynthesizeToAsset writes a single
// shared slot; callers serialize synthesis and delivery themselves.
type Gateway struct {
	cfg    Config
	client *http.Client
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("tts: ElevenLabs API key is required")
	}
	cfg.ApplyDefaults()

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{cfg: cfg, client: client}, nil
}

// AssetName returns the fixed file name of the audio slot.
func (g *Gateway) AssetName() string {
	return g.cfg.AssetName
}

// Synthesize converts text to audio bytes in the given voice.
func (g *Gateway) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, ErrNoVoice
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": g.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":        g.cfg.Stability,
			"similarity_boost": g.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(voiceID))
	if g.cfg.OutputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(g.cfg.OutputFormat)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("tts: failed to read audio: %w", err)
	}
	if int64(len(audio)) > maxAudioBytes {
		return nil, ErrAudioTooLarge
	}
	return audio, nil
}

// SynthesizeToAsset synthesizes text and writes it to the fixed asset slot
// inside dir, creating dir if needed. Any previous asset is replaced.
// It returns the path of the written file.
func (g *Gateway) SynthesizeToAsset(ctx context.Context, text, voiceID, dir string) (string, error) {
	audio, err := g.Synthesize(ctx, text, voiceID)
	if err != nil {
		return "", err
	}
	return WriteAsset(dir, g.cfg.AssetName, audio)
}

// WriteAsset atomically replaces dir/name with data. The temp file lives in
// the same directory so the rename never crosses filesystems.
func WriteAsset(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("tts: failed to create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("tts: failed to create temp asset: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("tts: failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("tts: failed to write audio: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("tts: failed to write audio: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("tts: failed to replace asset: %w", err)
	}
	return path, nil
}

// ListVoices returns the account's voices in the order ElevenLabs lists them.
func (g *Gateway) ListVoices(ctx context.Context) ([]Voice, error) {
	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/v1/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", g.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}

	var payload struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("tts: failed to parse voices: %w", err)
	}

	voices := make([]Voice, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name})
	}
	return voices, nil
}

// upstreamError builds an UpstreamSynthesisError, preferring the provider's
// detail message over the raw body.
func upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(body))

	var detail struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && detail.Detail.Message != "" {
		msg = detail.Detail.Message
	}
	return &UpstreamSynthesisError{StatusCode: resp.StatusCode, Message: msg}
}
