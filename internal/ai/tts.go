package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"verabot/config"
)

// TTSProvider is the closed set of voice backends.
type TTSProvider string

const (
	TTSGoogle     TTSProvider = "google"
	TTSElevenLabs TTSProvider = "elevenlabs"
	TTSPiper      TTSProvider = "piper"
)

// NormalizeTTSProvider maps the aliases seen in configs onto the
// canonical provider names. Unknown names are rejected rather than
// silently falling back.
func NormalizeTTSProvider(raw string) (TTSProvider, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "google", "gcp", "googletts", "cloudtts":
		return TTSGoogle, true
	case "elevenlabs", "11labs", "eleven", "xi":
		return TTSElevenLabs, true
	case "piper":
		return TTSPiper, true
	}
	return "", false
}

// TTSAudio is one synthesized clip.
type TTSAudio struct {
	Data     []byte
	MimeType string
	FileName string
}

// Synthesizer renders reply text as a voice note through the configured
// provider.
type Synthesizer struct {
	http     *resty.Client
	provider TTSProvider
	cfg      *config.Config

	googleURL string
	elevenURL string
}

// NewSynthesizer returns nil when the configured provider name is not
// recognized. A nil Synthesizer disables voice replies.
func NewSynthesizer(cfg *config.Config) *Synthesizer {
	provider, ok := NormalizeTTSProvider(cfg.TTSProvider)
	if !ok {
		return nil
	}
	return &Synthesizer{
		http:      resty.New().SetTimeout(45 * time.Second),
		provider:  provider,
		cfg:       cfg,
		googleURL: "https://texttospeech.googleapis.com/v1/text:synthesize",
		elevenURL: "https://api.elevenlabs.io/v1/text-to-speech",
	}
}

func (s *Synthesizer) Provider() TTSProvider { return s.provider }

// Synthesize renders text with the configured provider.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (TTSAudio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TTSAudio{}, fmt.Errorf("empty text")
	}
	switch s.provider {
	case TTSGoogle:
		return s.google(ctx, text)
	case TTSElevenLabs:
		return s.elevenlabs(ctx, text)
	case TTSPiper:
		return s.piper(ctx, text)
	}
	return TTSAudio{}, fmt.Errorf("unsupported provider: %s", s.provider)
}

func (s *Synthesizer) google(ctx context.Context, text string) (TTSAudio, error) {
	if s.cfg.GoogleTTSAPIKey == "" {
		return TTSAudio{}, fmt.Errorf("GOOGLE_TTS_API_KEY missing")
	}
	voice := map[string]interface{}{"languageCode": "es-US"}
	if s.cfg.TTSVoiceID != "" {
		voice["name"] = s.cfg.TTSVoiceID
	}
	var out struct {
		AudioContent string `json:"audioContent"`
	}
	resp, err := s.http.R().SetContext(ctx).
		SetQueryParam("key", s.cfg.GoogleTTSAPIKey).
		SetBody(map[string]interface{}{
			"input": map[string]string{"text": text},
			"voice": voice,
			"audioConfig": map[string]interface{}{
				"audioEncoding": "OGG_OPUS",
				"speakingRate":  1.0,
				"pitch":         0.0,
			},
		}).
		SetResult(&out).
		Post(s.googleURL)
	if err != nil {
		return TTSAudio{}, err
	}
	if resp.IsError() {
		return TTSAudio{}, fmt.Errorf("google tts %d: %s", resp.StatusCode(), truncateStr(resp.String(), 300))
	}
	if out.AudioContent == "" {
		return TTSAudio{}, fmt.Errorf("google tts: no audioContent")
	}
	data, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return TTSAudio{}, fmt.Errorf("google tts: %w", err)
	}
	return TTSAudio{Data: data, MimeType: "audio/ogg", FileName: "tts.ogg"}, nil
}

func (s *Synthesizer) elevenlabs(ctx context.Context, text string) (TTSAudio, error) {
	if s.cfg.ElevenLabsAPIKey == "" {
		return TTSAudio{}, fmt.Errorf("ELEVENLABS_API_KEY missing")
	}
	if s.cfg.TTSVoiceID == "" {
		return TTSAudio{}, fmt.Errorf("TTS_VOICE_ID missing")
	}
	model := s.cfg.TTSModelID
	if model == "" {
		model = "eleven_multilingual_v2"
	}
	resp, err := s.http.R().SetContext(ctx).
		SetHeader("xi-api-key", s.cfg.ElevenLabsAPIKey).
		SetHeader("Accept", "audio/mpeg").
		SetBody(map[string]interface{}{
			"text":     text,
			"model_id": model,
			"voice_settings": map[string]float64{
				"stability":        0.5,
				"similarity_boost": 0.75,
			},
		}).
		Post(s.elevenURL + "/" + s.cfg.TTSVoiceID)
	if err != nil {
		return TTSAudio{}, err
	}
	if resp.IsError() {
		return TTSAudio{}, fmt.Errorf("elevenlabs %d: %s", resp.StatusCode(), truncateStr(resp.String(), 300))
	}
	if len(resp.Body()) == 0 {
		return TTSAudio{}, fmt.Errorf("elevenlabs: empty audio")
	}
	return TTSAudio{Data: resp.Body(), MimeType: "audio/mpeg", FileName: "tts.mp3"}, nil
}

func (s *Synthesizer) piper(ctx context.Context, text string) (TTSAudio, error) {
	if s.cfg.PiperBaseURL == "" {
		return TTSAudio{}, fmt.Errorf("PIPER_BASE_URL missing")
	}
	resp, err := s.http.R().SetContext(ctx).
		SetQueryParam("text", text).
		Get(s.cfg.PiperBaseURL + "/tts")
	if err != nil {
		return TTSAudio{}, err
	}
	if resp.IsError() {
		return TTSAudio{}, fmt.Errorf("piper %d: %s", resp.StatusCode(), truncateStr(resp.String(), 300))
	}
	if len(resp.Body()) == 0 {
		return TTSAudio{}, fmt.Errorf("piper: empty audio")
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(resp.Header().Get("Content-Type"), ";", 2)[0]))
	switch ct {
	case "audio/ogg", "audio/opus", "":
		return TTSAudio{Data: resp.Body(), MimeType: "audio/ogg", FileName: "tts.ogg"}, nil
	case "audio/wav", "audio/x-wav":
		return TTSAudio{Data: resp.Body(), MimeType: "audio/wav", FileName: "tts.wav"}, nil
	}
	return TTSAudio{Data: resp.Body(), MimeType: ct, FileName: "tts.bin"}, nil
}
