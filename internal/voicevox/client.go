// Package voicevox is a client for a VOICEVOX-compatible speech synthesis
// engine. Synthesis is a two-step exchange: request an audio query artifact
// for the text, then request WAV audio for that artifact. The engine holds no
// state between calls.
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Config holds engine connection settings.
type Config struct {
	BaseURL string        // e.g. "http://localhost:50021"
	Timeout time.Duration // per-request timeout
}

// DefaultConfig returns sensible defaults for a local engine.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:50021",
		Timeout: 30 * time.Second,
	}
}

// Client talks to the synthesis engine over HTTP.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// NewClient creates an engine client.
func NewClient(cfg *Config, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "voicevox").Logger(),
	}
}

// AudioQuery requests the synthesis query artifact for text and speaker.
// The artifact is kept as a generic map so engine fields survive a
// round-trip untouched.
func (c *Client) AudioQuery(ctx context.Context, text string, speaker int) (map[string]any, error) {
	u := fmt.Sprintf("%s/audio_query?text=%s&speaker=%d",
		c.config.BaseURL, url.QueryEscape(text), speaker)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create audio_query request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio_query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("audio_query failed: %d - %s", resp.StatusCode, string(body))
	}

	var query map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&query); err != nil {
		return nil, fmt.Errorf("decode audio query: %w", err)
	}
	return query, nil
}

// Synthesize requests WAV audio for a previously obtained query artifact.
func (c *Client) Synthesize(ctx context.Context, query map[string]any, speaker int) ([]byte, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal audio query: %w", err)
	}

	u := c.config.BaseURL + "/synthesis?speaker=" + strconv.Itoa(speaker)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesis failed: %d - %s", resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	return audio, nil
}

// SynthesizeText runs the full two-step exchange for one utterance, applying
// the playback speed to the query artifact between the steps.
func (c *Client) SynthesizeText(ctx context.Context, text string, speaker int, speed float64) ([]byte, error) {
	start := time.Now()

	query, err := c.AudioQuery(ctx, text, speaker)
	if err != nil {
		return nil, err
	}
	if speed > 0 {
		query["speedScale"] = speed
	}

	audio, err := c.Synthesize(ctx, query, speaker)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("speaker", speaker).
		Int("textLen", len(text)).
		Int("audioBytes", len(audio)).
		Dur("elapsed", time.Since(start)).
		Msg("Synthesis complete")
	return audio, nil
}

// Version probes the engine and returns its version string. Used as the
// health check.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/version", nil)
	if err != nil {
		return "", fmt.Errorf("create version request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version probe failed: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}

	version := string(bytes.Trim(body, "\" \n"))
	return version, nil
}
