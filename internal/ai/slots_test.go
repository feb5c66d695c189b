package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePreferenceSlots(t *testing.T) {
	s := ParsePreferenceSlots("busco algo dulce y elegante para mi esposo, presupuesto 150k, que sirva para la oficina")
	assert.Equal(t, "150k", s.Budget)
	assert.Contains(t, s.Vibe, "elegante")
	assert.Contains(t, s.Family, "dulce")
	assert.Contains(t, s.Occasion, "oficina")
	assert.Equal(t, "alta", s.Sweetness)
}

func TestParsePreferenceSlotsGender(t *testing.T) {
	assert.Equal(t, "hombre", ParsePreferenceSlots("para hombre maduro").Gender)
	assert.Equal(t, "mujer", ParsePreferenceSlots("algo femenino").Gender)
	assert.Equal(t, "unisex", ParsePreferenceSlots("un unisex para hombre y mujer").Gender,
		"unisex wins over the individual genders")
}

func TestParsePreferenceSlotsBudgetForms(t *testing.T) {
	assert.Equal(t, "150k", ParsePreferenceSlots("hasta 150 mil").Budget)
	assert.Equal(t, "250000", ParsePreferenceSlots("tengo 250000 pesos").Budget)
	assert.Empty(t, ParsePreferenceSlots("quiero el 212").Budget, "short numbers are not budgets")
}

func TestParsePreferenceSlotsBrand(t *testing.T) {
	assert.Equal(t, "lattafa", ParsePreferenceSlots("algo de Lattafa dulce").Brand)
}

func TestParsePreferenceSlotsEmpty(t *testing.T) {
	assert.True(t, ParsePreferenceSlots("hola").Empty())
	assert.True(t, ParsePreferenceSlots("").Empty())
}

func TestParsePreferenceSlotsDeterministic(t *testing.T) {
	text := "fresco dulce amaderado citrico para fiesta y cita en verano"
	a := ParsePreferenceSlots(text)
	b := ParsePreferenceSlots(text)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"fresco"}, a.Vibe)
	assert.Equal(t, []string{"fiesta", "cita", "verano"}, a.Occasion)
	assert.Equal(t, []string{"dulce", "amaderado", "citrico"}, a.Family)
}
