package ai

import (
	"regexp"
	"strconv"
	"strings"

	"verabot/internal/textutil"
)

// Intent is what the rule router decided a message wants.
type Intent string

const (
	IntentChoice         Intent = "CHOICE"
	IntentHumanHandoff   Intent = "HUMAN_HANDOFF"
	IntentPhotoRequest   Intent = "PHOTO_REQUEST"
	IntentBuyFlow        Intent = "BUY_FLOW"
	IntentPriceStock     Intent = "PRICE_STOCK"
	IntentCompare        Intent = "COMPARE"
	IntentProductSearch  Intent = "PRODUCT_SEARCH"
	IntentPreferenceReco Intent = "PREFERENCE_RECO"
	IntentUnknown        Intent = "UNKNOWN"
)

// IntentResult is the routing outcome: the first matching rule wins and
// sets the confidence.
type IntentResult struct {
	Intent     Intent
	Confidence float64
	Choice     int
	Query      string
	Source     string
}

var (
	photoPat   = regexp.MustCompile(`\b(foto|imagen|foto real|muestrame|muestrame la|envia(me)?|manda(me)?)(?:\s+la)?\s*(foto|imagen)?\b`)
	buyPat     = regexp.MustCompile(`\b(comprar|carrito|pagar|pago|checkout|envio|domicilio|direccion)\b`)
	pricePat   = regexp.MustCompile(`\b(precio|cuanto\s+vale|cuesta|valor|stock|disponible|agotad[oa])\b`)
	comparePat = regexp.MustCompile(`\b(comparar|cual\s+es\s+mejor|entre\s+el\s+\d+\s+y\s+el\s+\d+|vs)\b`)
	handoffPat = regexp.MustCompile(`\b(asesor|humano|persona|llamar|llamada)\b`)

	prefPat  = regexp.MustCompile(`\b(dulce|vainilla|amaderad\w*|citr\w*|acuatic\w*|aromatic\w*|especiad\w*|cuero|floral|noche|dia|oficina|cita|fiesta|verano|invierno|elegante|juvenil|seductor|deportivo)\b`)
	brandPat = regexp.MustCompile(`\b(dior|versace|lattafa|armaf|paco\s+rabanne|carolina\s+herrera|tom\s+ford|chanel|givenchy|ysl|yves\s+saint\s+laurent)\b`)
	// Perfume boxes carry these markers next to the commercial name.
	boxHintPat = regexp.MustCompile(`(?i)\b(pour\s+homme|pour\s+femme|eau\s+de\s+parfum|eau\s+de\s+toilette|parfum)\b`)

	budgetPat  = regexp.MustCompile(`\b\d{2,3}\s*(k|mil)\b|\b\d{5,7}\b`)
	domainPat  = regexp.MustCompile(`\b(perfume|colonia|fragancia)\b`)
	allDigits  = regexp.MustCompile(`^\d+$`)
	nonWordPat = regexp.MustCompile(`[^\p{L}\p{N}\s\-]`)
)

// WantsHuman reports whether the raw text asks for a human advisor.
func WantsHuman(userText string) bool {
	return handoffPat.MatchString(textutil.Normalize(userText))
}

// DetectIntent routes one message through the ordered rule table.
// It is pure: same inputs, same result, no external calls.
func DetectIntent(userText, msgType, state, extractedText string) IntentResult {
	st := textutil.Normalize(state)
	t := textutil.Normalize(userText)
	et := strings.TrimSpace(extractedText)

	if strings.Contains(st, "await_choice") && t != "" && allDigits.MatchString(t) {
		n, _ := strconv.Atoi(t)
		return IntentResult{Intent: IntentChoice, Confidence: 0.95, Choice: n}
	}
	if handoffPat.MatchString(t) {
		return IntentResult{Intent: IntentHumanHandoff, Confidence: 0.8}
	}
	if photoPat.MatchString(t) {
		return IntentResult{Intent: IntentPhotoRequest, Confidence: 0.85}
	}
	if buyPat.MatchString(t) {
		return IntentResult{Intent: IntentBuyFlow, Confidence: 0.8}
	}
	if pricePat.MatchString(t) {
		return IntentResult{Intent: IntentPriceStock, Confidence: 0.75}
	}
	if comparePat.MatchString(t) {
		return IntentResult{Intent: IntentCompare, Confidence: 0.75}
	}

	mt := textutil.Normalize(msgType)
	if (mt == "image" || mt == "document") && et != "" {
		etNorm := textutil.Normalize(et)
		if boxHintPat.MatchString(etNorm) || brandPat.MatchString(etNorm) {
			q := nonWordPat.ReplaceAllString(et, " ")
			words := strings.Fields(q)
			if len(words) > 10 {
				words = words[:10]
			}
			return IntentResult{
				Intent:     IntentProductSearch,
				Confidence: 0.7,
				Query:      strings.Join(words, " "),
				Source:     "extracted_text",
			}
		}
		return IntentResult{Intent: IntentUnknown, Confidence: 0.45, Source: "image_no_strong_signal"}
	}

	if budgetPat.MatchString(t) {
		return IntentResult{Intent: IntentPreferenceReco, Confidence: 0.65}
	}
	if prefPat.MatchString(t) || brandPat.MatchString(t) || domainPat.MatchString(t) {
		return IntentResult{Intent: IntentPreferenceReco, Confidence: 0.6}
	}
	return IntentResult{Intent: IntentUnknown, Confidence: 0.3}
}
