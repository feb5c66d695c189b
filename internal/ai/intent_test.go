package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIntentChoiceWhileAwaiting(t *testing.T) {
	r := DetectIntent("2", "text", "await_choice", "")
	assert.Equal(t, IntentChoice, r.Intent)
	assert.Equal(t, 0.95, r.Confidence)
	assert.Equal(t, 2, r.Choice)

	// Same digits without the awaiting state route elsewhere.
	r = DetectIntent("2", "text", "", "")
	assert.NotEqual(t, IntentChoice, r.Intent)
}

func TestDetectIntentHandoffVocabulary(t *testing.T) {
	for _, text := range []string{"quiero un asesor", "pásame con un humano", "puedo llamar?"} {
		r := DetectIntent(text, "text", "", "")
		assert.Equal(t, IntentHumanHandoff, r.Intent, text)
		assert.Equal(t, 0.8, r.Confidence)
	}
}

func TestDetectIntentPhotoRequest(t *testing.T) {
	r := DetectIntent("mándame la foto real", "text", "", "")
	assert.Equal(t, IntentPhotoRequest, r.Intent)
	assert.Equal(t, 0.85, r.Confidence)
}

func TestDetectIntentBuyPriceCompare(t *testing.T) {
	assert.Equal(t, IntentBuyFlow, DetectIntent("quiero comprar ese", "text", "", "").Intent)
	assert.Equal(t, IntentPriceStock, DetectIntent("¿cuánto vale?", "text", "", "").Intent)
	assert.Equal(t, IntentCompare, DetectIntent("invictus vs one million", "text", "", "").Intent)
}

func TestDetectIntentImageWithBoxHints(t *testing.T) {
	r := DetectIntent("", "image", "", "ONE MILLION Eau de Parfum Paco Rabanne 100ml")
	assert.Equal(t, IntentProductSearch, r.Intent)
	assert.Equal(t, 0.7, r.Confidence)
	assert.Equal(t, "extracted_text", r.Source)
	assert.Contains(t, r.Query, "ONE MILLION")

	// Query is capped to the first ten words.
	long := "eau de parfum uno dos tres cuatro cinco seis siete ocho nueve diez"
	r = DetectIntent("", "image", "", long)
	assert.Equal(t, IntentProductSearch, r.Intent)
	assert.Len(t, splitWords(r.Query), 10)
}

func TestDetectIntentImageWithoutSignals(t *testing.T) {
	r := DetectIntent("", "image", "", "una mesa con flores")
	assert.Equal(t, IntentUnknown, r.Intent)
	assert.Equal(t, 0.45, r.Confidence)
	assert.Equal(t, "image_no_strong_signal", r.Source)
}

func TestDetectIntentBudgetAndPreferences(t *testing.T) {
	assert.Equal(t, IntentPreferenceReco, DetectIntent("tengo 150k", "text", "", "").Intent)
	assert.Equal(t, 0.65, DetectIntent("tengo 150 mil", "text", "", "").Confidence)
	assert.Equal(t, IntentPreferenceReco, DetectIntent("algo dulce para la noche", "text", "", "").Intent)
	assert.Equal(t, 0.6, DetectIntent("me gusta dior", "text", "", "").Confidence)
	assert.Equal(t, IntentPreferenceReco, DetectIntent("busco un perfume", "text", "", "").Intent)
}

func TestDetectIntentDefaultUnknown(t *testing.T) {
	r := DetectIntent("hola", "text", "", "")
	assert.Equal(t, IntentUnknown, r.Intent)
	assert.Equal(t, 0.3, r.Confidence)
}

func TestDetectIntentIsPure(t *testing.T) {
	a := DetectIntent("quiero algo dulce para una cita", "text", "", "")
	b := DetectIntent("quiero algo dulce para una cita", "text", "", "")
	assert.Equal(t, a, b, "routing is deterministic")
}

func TestDetectIntentNormalization(t *testing.T) {
	a := DetectIntent("¿CUÁNTO   VALE?", "text", "", "")
	b := DetectIntent("cuanto vale", "text", "", "")
	assert.Equal(t, a.Intent, b.Intent)
	assert.Equal(t, a.Confidence, b.Confidence)
}

func TestWantsHuman(t *testing.T) {
	assert.True(t, WantsHuman("necesito hablar con una PERSONA"))
	assert.False(t, WantsHuman("hola buenas"))
}

func splitWords(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
