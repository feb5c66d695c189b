package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"verabot/config"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client calls the Gemini generateContent endpoint with inline media.
// Rate limits and transient errors are retried with the server's hint
// when it gives one; a retired model falls through to the fallback
// model immediately.
type Client struct {
	http          *resty.Client
	baseURL       string
	apiKey        string
	model         string
	fallbackModel string
	maxRetries    int
	sleep         func(time.Duration)
}

// Meta describes one generation attempt chain for the message log.
type Meta struct {
	OK        bool   `json:"ok"`
	Stage     string `json:"stage,omitempty"`
	Status    int    `json:"status,omitempty"`
	Model     string `json:"model,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:          resty.New().SetTimeout(time.Duration(cfg.MMTimeoutSec) * time.Second),
		baseURL:       defaultBaseURL,
		apiKey:        cfg.GoogleAIAPIKey,
		model:         cfg.MMModel,
		fallbackModel: cfg.MMFallbackModel,
		maxRetries:    cfg.MMMaxRetries,
		sleep:         time.Sleep,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// CleanMime strips parameters and lowercases, e.g.
// "audio/ogg; codecs=opus" becomes "audio/ogg".
func CleanMime(m string) string {
	if m == "" {
		return "application/octet-stream"
	}
	return strings.ToLower(strings.TrimSpace(strings.SplitN(m, ";", 2)[0]))
}

type genRequest struct {
	Contents         []genContent `json:"contents"`
	GenerationConfig genConfig    `json:"generationConfig"`
}

type genContent struct {
	Role  string    `json:"role"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *genInlineData `json:"inline_data,omitempty"`
}

type genInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateInline sends prompt plus one inline media blob and returns
// the concatenated text parts. The fallback model is tried only when
// the primary model no longer exists.
func (c *Client) GenerateInline(ctx context.Context, prompt string, media []byte, mimeType string, temperature float64) (string, Meta) {
	if !c.Enabled() {
		return "", Meta{Stage: "config", Error: "GOOGLE_AI_API_KEY missing"}
	}
	mime := CleanMime(mimeType)
	body := genRequest{
		Contents: []genContent{{
			Role: "user",
			Parts: []genPart{
				{Text: prompt},
				{InlineData: &genInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(media)}},
			},
		}},
		GenerationConfig: genConfig{Temperature: temperature, MaxOutputTokens: 512},
	}

	start := time.Now()
	text, status, err := c.doCall(ctx, c.model, body)
	meta := Meta{Model: c.model, MimeType: mime, Status: status}

	if err != nil && status == 404 && c.fallbackModel != "" && c.fallbackModel != c.model &&
		looksLikeModelNotFound(err.Error()) {
		log.Warn().Str("model", c.model).Str("fallback", c.fallbackModel).
			Msg("Model unavailable, switching to fallback")
		text, status, err = c.doCall(ctx, c.fallbackModel, body)
		meta.Model = c.fallbackModel
		meta.Status = status
	}

	meta.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		meta.Stage = "generate"
		meta.Error = truncate(err.Error(), 900)
		return "", meta
	}
	meta.OK = true
	meta.Stage = "generate"
	return text, meta
}

// doCall runs the retry loop for one model: 429 and 5xx sleep and
// retry, 404 and other 4xx fail fast.
func (c *Client) doCall(ctx context.Context, model string, body genRequest) (string, int, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	attempts := c.maxRetries + 1
	var lastStatus int
	var lastErr error

	for i := 0; i < attempts; i++ {
		var parsed genResponse
		resp, err := c.http.R().SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&parsed).
			Post(url)
		if err != nil {
			return "", 0, fmt.Errorf("gemini http: %w", err)
		}
		lastStatus = resp.StatusCode()

		if !resp.IsError() {
			var parts []string
			if len(parsed.Candidates) > 0 {
				for _, p := range parsed.Candidates[0].Content.Parts {
					if p.Text != "" {
						parts = append(parts, p.Text)
					}
				}
			}
			return strings.TrimSpace(strings.Join(parts, "\n")), lastStatus, nil
		}

		respBody := truncate(resp.String(), 900)
		lastErr = fmt.Errorf("gemini error %d: %s", lastStatus, respBody)

		if lastStatus == 429 || (lastStatus >= 500 && lastStatus <= 599) {
			wait := retryAfter(resp.Header().Get("Retry-After"), respBody)
			if wait <= 0 {
				wait = backoff(i)
			}
			log.Debug().Int("status", lastStatus).Dur("wait", wait).
				Str("model", model).Msg("Gemini transient error, retrying")
			select {
			case <-ctx.Done():
				return "", lastStatus, ctx.Err()
			default:
			}
			c.sleep(wait)
			continue
		}
		// 404 and remaining 4xx are not retryable.
		return "", lastStatus, lastErr
	}
	return "", lastStatus, lastErr
}

var retryHintRe = regexp.MustCompile(`(?i)retry in\s+([0-9]+(?:\.[0-9]+)?)s`)

// retryAfter honors the Retry-After header first, then Google's
// "retry in Xs" body hint.
func retryAfter(header, body string) time.Duration {
	if header != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if m := retryHintRe.FindStringSubmatch(body); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

func backoff(attempt int) time.Duration {
	wait := 0.8 * float64(int64(1)<<attempt)
	if wait > 12.0 {
		wait = 12.0
	}
	return time.Duration(wait * float64(time.Second))
}

func looksLikeModelNotFound(body string) bool {
	t := strings.ToLower(body)
	if strings.Contains(t, "not_found") {
		return true
	}
	if strings.Contains(t, "no longer available") {
		return true
	}
	return strings.Contains(t, "not available") && strings.Contains(t, "model")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var fenceOpenRe = regexp.MustCompile("(?i)^```(?:json)?\\s*")
var fenceCloseRe = regexp.MustCompile("\\s*```$")

// ExtractLooseJSON pulls a JSON object out of model output that may be
// wrapped in markdown fences or surrounded by prose. Returns nil when
// no object is found.
func ExtractLooseJSON(text string) []byte {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}
	t = strings.TrimSpace(fenceOpenRe.ReplaceAllString(t, ""))
	t = strings.TrimSpace(fenceCloseRe.ReplaceAllString(t, ""))
	i := strings.Index(t, "{")
	j := strings.LastIndex(t, "}")
	if i < 0 || j <= i {
		return nil
	}
	return []byte(strings.TrimSpace(t[i : j+1]))
}
