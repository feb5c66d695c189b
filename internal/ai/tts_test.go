package ai

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verabot/config"
)

func TestNormalizeTTSProvider(t *testing.T) {
	cases := map[string]TTSProvider{
		"google": TTSGoogle, "GCP": TTSGoogle, "googletts": TTSGoogle, "cloudtts": TTSGoogle,
		"elevenlabs": TTSElevenLabs, "11labs": TTSElevenLabs, "eleven": TTSElevenLabs, "xi": TTSElevenLabs,
		"piper": TTSPiper, " Piper ": TTSPiper,
	}
	for raw, want := range cases {
		got, ok := NormalizeTTSProvider(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := NormalizeTTSProvider("espeak")
	assert.False(t, ok, "unknown providers are rejected, not defaulted")
}

func TestNewSynthesizerRejectsUnknownProvider(t *testing.T) {
	assert.Nil(t, NewSynthesizer(&config.Config{TTSProvider: "espeak"}))
	assert.NotNil(t, NewSynthesizer(&config.Config{TTSProvider: "11labs"}))
}

func TestSynthesizeGoogle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audioContent":"` + base64.StdEncoding.EncodeToString([]byte("OGGDATA")) + `"}`))
	}))
	defer srv.Close()

	s := NewSynthesizer(&config.Config{TTSProvider: "google", GoogleTTSAPIKey: "k"})
	require.NotNil(t, s)
	s.googleURL = srv.URL

	audio, err := s.Synthesize(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, []byte("OGGDATA"), audio.Data)
	assert.Equal(t, "audio/ogg", audio.MimeType)
	assert.Equal(t, "tts.ogg", audio.FileName)
}

func TestSynthesizeElevenLabs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice1", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("MP3DATA"))
	}))
	defer srv.Close()

	s := NewSynthesizer(&config.Config{TTSProvider: "elevenlabs", ElevenLabsAPIKey: "key", TTSVoiceID: "voice1"})
	require.NotNil(t, s)
	s.elevenURL = srv.URL

	audio, err := s.Synthesize(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, []byte("MP3DATA"), audio.Data)
	assert.Equal(t, "audio/mpeg", audio.MimeType)
}

func TestSynthesizeEmptyText(t *testing.T) {
	s := NewSynthesizer(&config.Config{TTSProvider: "google", GoogleTTSAPIKey: "k"})
	require.NotNil(t, s)
	_, err := s.Synthesize(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSynthesizeMissingCredentials(t *testing.T) {
	s := NewSynthesizer(&config.Config{TTSProvider: "google"})
	require.NotNil(t, s)
	_, err := s.Synthesize(context.Background(), "hola")
	assert.ErrorContains(t, err, "missing")
}
