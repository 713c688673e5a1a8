package speak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/speakavatar/internal/metrics"
)

// Endpoint paths on the speak backend.
const (
	PathSpeakText      = "/tts/speak/text"
	PathSpeakVoice     = "/tts/speak/voice"
	PathSpeakVoiceS3   = "/tts/speak/voice-s3"
	PathLangsCurrent   = "/languages/current"
	PathLangsTarget    = "/languages/target"
	maxErrorBodyLength = 200
)

// ClientConfig configures the backend client
type ClientConfig struct {
	BaseURL   string        // e.g., "http://localhost:8000"
	Timeout   time.Duration // HTTP request timeout
	AuthToken string        // sent as a bearer token when set
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://localhost:8000",
		Timeout: 60 * time.Second,
	}
}

// Client calls the speak and language endpoints.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a backend client. m may be nil.
func NewClient(cfg *ClientConfig, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger.With().Str("component", "speak-client").Logger(),
		metrics: m,
	}
}

// SpeakText asks the backend to voice text in the target language.
// ReturnTranscript defaults to false.
func (c *Client) SpeakText(ctx context.Context, text, currentLang, targetLang string, opts Options) (*SpeakResponse, error) {
	body := textRequest{
		InputType:        "text",
		CurrentLang:      currentLang,
		TargetLang:       targetLang,
		Text:             text,
		Style:            opts.Style,
		NeuralOnly:       opts.NeuralOnly,
		SampleRateHz:     opts.SampleRateHz,
		ReturnTranscript: opts.returnTranscript(false),
	}
	return c.postJSON(ctx, "text", PathSpeakText, body)
}

// SpeakVoiceS3 asks the backend to re-voice a recording already uploaded to
// object storage. ReturnTranscript defaults to true.
func (c *Client) SpeakVoiceS3(ctx context.Context, bucket, key, currentLang, targetLang string, opts Options) (*SpeakResponse, error) {
	body := voiceS3Request{
		Bucket:           bucket,
		Key:              key,
		CurrentLang:      currentLang,
		TargetLang:       targetLang,
		ReturnTranscript: opts.returnTranscript(true),
	}
	return c.postJSON(ctx, "voice-s3", PathSpeakVoiceS3, body)
}

// SpeakVoice uploads a recording as multipart form data. This is the legacy
// path; prefer SpeakVoiceS3.
func (c *Client) SpeakVoice(ctx context.Context, filename string, voice io.Reader, currentLang, targetLang string, opts Options) (*SpeakResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"input_type", "voice"},
		{"current_language", currentLang},
		{"target_language", targetLang},
	}
	if opts.Style != "" {
		fields = append(fields, [2]string{"style", opts.Style})
	}
	if opts.NeuralOnly != nil {
		fields = append(fields, [2]string{"neural_only", strconv.FormatBool(*opts.NeuralOnly)})
	}
	if opts.SampleRateHz != nil {
		fields = append(fields, [2]string{"sample_rate_hz", strconv.Itoa(*opts.SampleRateHz)})
	}
	fields = append(fields, [2]string{"return_transcript", strconv.FormatBool(opts.returnTranscript(true))})

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}

	part, err := w.CreateFormFile("voice_file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, voice); err != nil {
		return nil, fmt.Errorf("failed to copy voice file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	return c.post(ctx, "voice", PathSpeakVoice, w.FormDataContentType(), &buf)
}

// CurrentLanguages lists the languages the user can speak in. Errors are
// logged and yield an empty list.
func (c *Client) CurrentLanguages(ctx context.Context) []Language {
	return c.languages(ctx, PathLangsCurrent)
}

// TargetLanguages lists the languages the avatar can answer in. Errors are
// logged and yield an empty list.
func (c *Client) TargetLanguages(ctx context.Context) []Language {
	return c.languages(ctx, PathLangsTarget)
}

func (c *Client) languages(ctx context.Context, path string) []Language {
	raw, err := c.do(ctx, "languages", http.MethodGet, path, "", nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Language list unavailable")
		return []Language{}
	}

	var resp languagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Failed to decode language list")
		return []Language{}
	}
	if resp.Data == nil {
		return []Language{}
	}
	return resp.Data
}

func (c *Client) postJSON(ctx context.Context, endpoint, path string, body interface{}) (*SpeakResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.post(ctx, endpoint, path, "application/json", bytes.NewReader(data))
}

func (c *Client) post(ctx context.Context, endpoint, path, contentType string, body io.Reader) (*SpeakResponse, error) {
	raw, err := c.do(ctx, endpoint, http.MethodPost, path, contentType, body)
	if err != nil {
		return nil, err
	}

	var resp SpeakResponse
	if err := unwrap(raw, &resp); err != nil {
		c.fail(endpoint)
		return nil, fmt.Errorf("failed to decode speak response: %w", err)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("visemes", len(resp.VisemesMapped)).
		Bool("has_audio", resp.S3URL != "").
		Msg("Speak response received")

	return &resp, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path, contentType string, body io.Reader) ([]byte, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveRequest(endpoint, time.Since(start))
	}
	if err != nil {
		c.fail(endpoint)
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail(endpoint)
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.fail(endpoint)
		return nil, fmt.Errorf("%s request failed: %d - %s", endpoint, resp.StatusCode, truncateForLog(string(raw), maxErrorBodyLength))
	}

	return raw, nil
}

func (c *Client) fail(endpoint string) {
	if c.metrics != nil {
		c.metrics.RequestFailures.WithLabelValues(endpoint).Inc()
	}
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
