package ai

import (
	"regexp"
	"strings"

	"verabot/internal/models"
	"verabot/internal/textutil"
)

var slotBudgetRe = regexp.MustCompile(`\b(\d{2,3})\s*(k|mil)\b|\b(\d{5,7})\b`)

type slotWord struct {
	word, value string
}

// Vocabulary order is fixed so slot extraction stays deterministic.
var (
	vibeWords = []slotWord{
		{"elegante", "elegante"}, {"juvenil", "juvenil"}, {"seductor", "seductor"},
		{"sofisticado", "sofisticado"}, {"deportivo", "deportivo"}, {"maduro", "maduro"},
		{"serio", "serio"}, {"fresco", "fresco"},
	}
	occasionWords = []slotWord{
		{"oficina", "oficina"}, {"trabajo", "oficina"}, {"diario", "diario"},
		{"noche", "noche"}, {"fiesta", "fiesta"}, {"cita", "cita"}, {"formal", "formal"},
		{"verano", "verano"}, {"invierno", "invierno"},
	}
	familyWords = []slotWord{
		{"dulce", "dulce"}, {"vainilla", "vainilla"}, {"amaderado", "amaderado"},
		{"citrico", "citrico"}, {"acuatico", "acuatico"}, {"aromatico", "aromatico"},
		{"especiado", "especiado"}, {"cuero", "cuero"}, {"floral", "floral"},
		{"gourmand", "gourmand"}, {"ambar", "ambar"}, {"almizcle", "almizcle"},
	}
	sweetnessWords = []slotWord{{"dulce", "alta"}, {"seco", "baja"}}
	intensityWords = []slotWord{{"intenso", "alta"}, {"fuerte", "alta"}, {"suave", "baja"}}
	brandWords     = []string{
		"lattafa", "armaf", "paco rabanne", "carolina herrera", "dior",
		"versace", "tom ford", "chanel", "givenchy",
	}
)

// ParsePreferenceSlots reads recommendation axes off free text with
// plain vocabulary matching. It never guesses: absent signals leave the
// slot empty.
func ParsePreferenceSlots(userText string) models.PreferenceSlots {
	t := textutil.Normalize(userText)
	var slots models.PreferenceSlots
	if t == "" {
		return slots
	}

	switch {
	case strings.Contains(t, "unisex"):
		slots.Gender = "unisex"
	case strings.Contains(t, "hombre") || strings.Contains(t, "mascul") || strings.Contains(t, "caballero"):
		slots.Gender = "hombre"
	case strings.Contains(t, "mujer") || strings.Contains(t, "femen") || strings.Contains(t, "dama"):
		slots.Gender = "mujer"
	}

	seen := map[string]bool{}
	collect := func(dst *[]string, words []slotWord) {
		for _, w := range words {
			if strings.Contains(t, w.word) && !seen[w.value] {
				seen[w.value] = true
				*dst = append(*dst, w.value)
			}
		}
	}
	collect(&slots.Vibe, vibeWords)
	collect(&slots.Occasion, occasionWords)
	collect(&slots.Family, familyWords)

	for _, w := range sweetnessWords {
		if strings.Contains(t, w.word) {
			slots.Sweetness = w.value
			break
		}
	}
	for _, w := range intensityWords {
		if strings.Contains(t, w.word) {
			slots.Intensity = w.value
			break
		}
	}

	if m := slotBudgetRe.FindStringSubmatch(t); m != nil {
		if m[1] != "" {
			slots.Budget = m[1] + "k"
		} else {
			slots.Budget = m[3]
		}
	}

	for _, brand := range brandWords {
		if strings.Contains(t, brand) {
			slots.Brand = brand
			break
		}
	}
	return slots
}
