package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"verabot/internal/adapters/gemini"
	"verabot/internal/models"
)

// Media turns inbound audio, images and documents into text the intent
// router can work with.
type Media struct {
	gen *gemini.Client
}

func NewMedia(gen *gemini.Client) *Media {
	return &Media{gen: gen}
}

// MediaResult is one understanding outcome. Classification is
// "transcript" for audio; for visual media it is the vision extractor's
// type (perfume, receipt, other).
type MediaResult struct {
	Text           string                    `json:"text"`
	Classification string                    `json:"classification"`
	Extract        *models.StructuredExtract `json:"extract,omitempty"`
	Meta           MediaMeta                 `json:"meta"`
}

// MediaMeta records the stage-by-stage outcome for the message log.
type MediaMeta struct {
	OK              bool        `json:"ok"`
	Kind            string      `json:"kind"`
	MimeIn          string      `json:"mime_in"`
	MimeUsed        string      `json:"mime_used,omitempty"`
	AudioTranscoded bool        `json:"audio_transcoded,omitempty"`
	TranscodeError  string      `json:"transcode_error,omitempty"`
	Gen             gemini.Meta `json:"gen"`
	ExtractedLen    int         `json:"extracted_len"`
}

const transcribePrompt = "Transcribe exactamente el audio en español. " +
	"No inventes nada. " +
	"Devuelve SOLO el texto transcrito, sin explicaciones."

const extractPrompt = `Eres un extractor de datos para ventas por WhatsApp.
Tu tarea NO es describir: es IDENTIFICAR y EXTRAER.

Debes devolver SOLO un JSON válido (sin texto adicional, sin markdown).

Detecta el tipo:
1) PERFUME: si ves un perfume (frasco/caja), identifica el nombre comercial, marca y variante.
2) COMPROBANTE: si es comprobante/pago/transferencia, extrae monto, moneda, referencia, fecha, banco, titular.
3) OTHER: si no aplica.

Reglas:
- NO inventes. Si no se ve claro, pon null o lista vacía.
- Para PERFUME entrega 3 a 5 candidatos (más probable primero).
- Transcribe en 'ocr_text' todo el texto legible de la imagen.
- Crea 'search_text' corto para buscar en la tienda (marca + nombre + variante si aplica).

Formato exacto:
{
  "type": "perfume|receipt|other",
  "confidence": 0.0,
  "search_text": "",
  "ocr_text": "",
  "keywords": [],
  "product_candidates": [
     {"name": "", "brand": "", "variant": "", "size": "", "confidence": 0.0}
  ],
  "receipt": {
     "amount": null,
     "currency": null,
     "reference": null,
     "date": null,
     "bank": null,
     "payer_name": null
  },
  "notes": ""
}`

// Extract runs the understanding pipeline for one media message.
// Audio is transcoded to 16 kHz mono WAV first (WhatsApp delivers
// OGG/Opus); on transcode failure the original bytes are sent anyway.
func (m *Media) Extract(ctx context.Context, msgType string, media []byte, mimeType string) MediaResult {
	mime := gemini.CleanMime(mimeType)
	kind := mediaKind(msgType, mime)
	res := MediaResult{Meta: MediaMeta{Kind: kind, MimeIn: mime}}

	useBytes, useMime := media, mime
	if kind == "audio" {
		wav, err := transcodeToWAV16kMono(media)
		if err != nil {
			res.Meta.TranscodeError = err.Error()
			log.Warn().Err(err).Msg("Audio transcode failed, sending original bytes")
		} else if len(wav) > 0 {
			useBytes, useMime = wav, "audio/wav"
			res.Meta.AudioTranscoded = true
		}
	}
	res.Meta.MimeUsed = useMime

	switch kind {
	case "audio":
		text, meta := m.gen.GenerateInline(ctx, transcribePrompt, useBytes, useMime, 0.2)
		res.Meta.Gen = meta
		res.Text = strings.TrimSpace(text)
		res.Classification = "transcript"
	default:
		raw, meta := m.gen.GenerateInline(ctx, extractPrompt, useBytes, useMime, 0.0)
		res.Meta.Gen = meta
		ex := parseExtract(raw)
		res.Extract = ex
		res.Text, res.Classification = ReduceExtract(ex, raw)
	}

	res.Meta.ExtractedLen = len(res.Text)
	res.Meta.OK = res.Text != ""
	return res
}

// parseExtract decodes the loose JSON answer and normalizes the type
// field. A nil return means the model gave no usable object.
func parseExtract(raw string) *models.StructuredExtract {
	blob := gemini.ExtractLooseJSON(raw)
	if blob == nil {
		return nil
	}
	var ex models.StructuredExtract
	if err := json.Unmarshal(blob, &ex); err != nil {
		return nil
	}
	switch ex.Type {
	case "perfume", "receipt", "other":
	default:
		ex.Type = "other"
	}
	ex.SearchText = strings.TrimSpace(ex.SearchText)
	ex.OCRText = strings.TrimSpace(ex.OCRText)
	ex.Notes = strings.TrimSpace(ex.Notes)
	return &ex
}

// ReduceExtract collapses a structured extraction to the single text
// the router consumes. Perfume sightings become a store search query;
// receipts surface their OCR text verbatim for the CRM note.
func ReduceExtract(ex *models.StructuredExtract, raw string) (string, string) {
	if ex == nil {
		return strings.TrimSpace(raw), "other"
	}
	switch ex.Type {
	case "perfume":
		if ex.SearchText != "" {
			return ex.SearchText, "perfume"
		}
		if len(ex.Candidates) > 0 {
			c := ex.Candidates[0]
			q := strings.TrimSpace(strings.Join([]string{c.Brand, c.Name, c.Variant}, " "))
			q = strings.Join(strings.Fields(q), " ")
			if q != "" {
				return q, "perfume"
			}
		}
		if len(ex.Keywords) > 0 {
			return strings.Join(ex.Keywords, " "), "perfume"
		}
		return ex.OCRText, "perfume"
	case "receipt":
		if ex.OCRText != "" {
			return ex.OCRText, "receipt"
		}
		if ex.Receipt != nil {
			var parts []string
			for _, p := range []string{ex.Receipt.Amount, ex.Receipt.Currency, ex.Receipt.Reference, ex.Receipt.Date, ex.Receipt.Bank, ex.Receipt.PayerName} {
				if p != "" {
					parts = append(parts, p)
				}
			}
			return strings.Join(parts, " "), "receipt"
		}
		return ex.Notes, "receipt"
	default:
		for _, t := range []string{ex.SearchText, ex.OCRText, ex.Notes} {
			if t != "" {
				return t, "other"
			}
		}
		return "", "other"
	}
}

func mediaKind(msgType, mime string) string {
	switch {
	case msgType == "audio" || strings.HasPrefix(mime, "audio/"):
		return "audio"
	case msgType == "image" || strings.HasPrefix(mime, "image/"):
		return "image"
	default:
		return "document"
	}
}

// transcodeToWAV16kMono shells out to ffmpeg through temp files, the
// same way the waveform generation does.
func transcodeToWAV16kMono(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("empty audio input")
	}
	tmpDir, err := os.MkdirTemp("", "verabot-audio-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "in.bin")
	outPath := filepath.Join(tmpDir, "out.wav")
	if err := os.WriteFile(inPath, in, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.Command(
		"ffmpeg", "-y",
		"-v", "error",
		"-i", inPath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %s", truncateStr(string(out), 500))
	}
	return os.ReadFile(outPath)
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var placeholderTexts = map[string]bool{
	"[audio]": true, "[voice]": true, "[nota de voz]": true, "audio": true,
	"[image]": true, "[imagen]": true, "[photo]": true, "[foto]": true,
	"image": true, "imagen": true, "foto": true,
	"[video]": true, "[document]": true, "[archivo]": true,
	"video": true, "documento": true, "archivo": true,
	"[sticker]": true, "[gif]": true, "sticker": true, "gif": true,
}

var bracketedRe = regexp.MustCompile(`^\[[a-záéíóúñ0-9\s]+\]$`)

// IsEffectivelyEmptyText treats channel placeholders like "[imagen]"
// the same as a blank body.
func IsEffectivelyEmptyText(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	t2 := strings.Join(strings.Fields(t), " ")
	if placeholderTexts[t] || placeholderTexts[t2] {
		return true
	}
	return bracketedRe.MatchString(t2)
}
