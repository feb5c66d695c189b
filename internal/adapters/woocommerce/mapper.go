package woocommerce

import (
	"regexp"
	"strings"

	"verabot/internal/models"
	"verabot/internal/textutil"
)

// wcProduct is the raw WooCommerce REST shape; only the fields the bot
// reads are declared.
type wcProduct struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Price        string `json:"price"`
	RegularPrice string `json:"regular_price"`
	Permalink    string `json:"permalink"`
	ShortDesc    string `json:"short_description"`
	Description  string `json:"description"`
	StockStatus  string `json:"stock_status"`
	DateModified string `json:"date_modified_gmt"`
	Images       []struct {
		Src string `json:"src"`
	} `json:"images"`
	Categories []struct {
		Name string `json:"name"`
	} `json:"categories"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Attributes []struct {
		Name    string   `json:"name"`
		Options []string `json:"options"`
	} `json:"attributes"`
	MetaData []struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	} `json:"meta_data"`
}

var htmlTagRe = regexp.MustCompile(`<[^<]+?>`)

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, " "))
}

// shorten collapses whitespace and cuts at the last word boundary
// before maxChars, appending an ellipsis.
func shorten(s string, maxChars int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	cut := string(r[:maxChars])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

// mapProduct flattens a raw store product into the provider-independent
// shape. The size, when known, is folded into the display name so
// same-name presentations stay distinguishable.
func mapProduct(p wcProduct) models.Product {
	price := p.Price
	if price == "" {
		price = p.RegularPrice
	}
	size := extractSize(p)
	name := p.Name
	if size != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(size)) {
		name = name + " (" + size + ")"
	}

	out := models.Product{
		ID:          p.ID,
		Name:        name,
		Price:       price,
		Permalink:   p.Permalink,
		ShortDesc:   shorten(stripHTML(p.ShortDesc), 260),
		Description: shorten(stripHTML(p.Description), 520),
		Aromas:      extractAromas(p),
		Brand:       extractBrand(p),
		Gender:      extractGender(p),
		Size:        size,
		StockStatus: p.StockStatus,
	}
	if len(p.Images) > 0 {
		out.FeaturedImage = p.Images[0].Src
	}
	if len(p.Images) > 1 {
		out.RealImage = p.Images[1].Src
	}
	for _, c := range p.Categories {
		if n := strings.TrimSpace(c.Name); n != "" {
			out.Categories = append(out.Categories, n)
		}
	}
	for _, t := range p.Tags {
		if n := strings.TrimSpace(t.Name); n != "" {
			out.Tags = append(out.Tags, n)
		}
	}
	return out
}

func extractAromas(p wcProduct) []string {
	for _, a := range p.Attributes {
		if strings.EqualFold(strings.TrimSpace(a.Name), "aromas") {
			var out []string
			for _, o := range a.Options {
				if o = strings.TrimSpace(o); o != "" {
					out = append(out, o)
				}
			}
			return out
		}
	}
	return nil
}

var brandMetaKeys = map[string]bool{
	"brand": true, "_brand": true, "pa_brand": true,
	"product_brand": true, "yith_wcbm_brand": true,
}

// extractBrand tries meta data, then a brand/marca attribute, then the
// first tag.
func extractBrand(p wcProduct) string {
	for _, md := range p.MetaData {
		if brandMetaKeys[strings.ToLower(strings.TrimSpace(md.Key))] {
			if v, ok := md.Value.(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	for _, a := range p.Attributes {
		nm := strings.ToLower(strings.TrimSpace(a.Name))
		if (nm == "brand" || nm == "marca") && len(a.Options) > 0 {
			return strings.TrimSpace(a.Options[0])
		}
	}
	if len(p.Tags) > 0 {
		return strings.TrimSpace(p.Tags[0].Name)
	}
	return ""
}

func extractGender(p wcProduct) string {
	var names []string
	for _, c := range p.Categories {
		names = append(names, strings.ToLower(c.Name))
	}
	contains := func(sub string) bool {
		for _, n := range names {
			if strings.Contains(n, sub) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("hombre"):
		return "hombre"
	case contains("mujer"):
		return "mujer"
	case contains("unisex"):
		return "unisex"
	}
	return ""
}

var sizeAttrNames = map[string]bool{
	"tamaño": true, "tamano": true, "size": true, "volumen": true,
	"mililitros": true, "ml": true, "capacidad": true,
	"presentacion": true, "presentación": true,
}

func extractSize(p wcProduct) string {
	for _, a := range p.Attributes {
		if sizeAttrNames[strings.ToLower(strings.TrimSpace(a.Name))] && len(a.Options) > 0 {
			return strings.TrimSpace(a.Options[0])
		}
	}
	return ""
}

var digitsRunRe = regexp.MustCompile(`\b\d{2,4}\b`)

var brandTokens = []string{
	"dior", "versace", "armani", "azzaro", "carolina", "rabanne", "paco",
	"givenchy", "jean", "gaultier", "valentino", "gucci", "prada", "ysl",
	"tom ford", "hugo", "boss", "lacoste", "bvlgari", "bulgari",
}

var prefTokens = []string{
	"maduro", "elegante", "serio", "juvenil", "seductor", "sofisticado",
	"oficina", "trabajo", "diario", "noche", "fiesta", "cita", "formal",
	"fresco", "dulce", "seco", "amader", "ambar", "vainill", "citr",
	"acuatic", "aromatic", "espec", "cuero", "almizcl", "iris", "floral",
	"gourmand", "proyeccion", "duracion", "intenso", "suave",
	"verano", "invierno", "calor", "frio",
	"unisex", "hombre", "mujer", "mascul", "femen",
	"presupuesto", "hasta", "me alcanza", "barato", "economico",
}

// LooksLikePreferenceQuery reports whether the text describes tastes or
// occasions rather than a concrete product name. Word count alone is
// deliberately not a criterion.
func LooksLikePreferenceQuery(q string) bool {
	t := textutil.Normalize(q)
	if t == "" {
		return false
	}
	if digitsRunRe.MatchString(t) {
		return false
	}
	for _, b := range brandTokens {
		if strings.Contains(t, b) {
			return false
		}
	}
	for _, p := range prefTokens {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

var genericShortTexts = map[string]bool{
	"ok": true, "listo": true, "dale": true, "gracias": true,
	"perfecto": true, "de una": true, "vale": true, "bien": true,
	"hola": true, "buenas": true, "buenos dias": true,
	"buenas tardes": true, "buenas noches": true,
}

var strongSignals = []string{
	"precio", "vale", "cuanto", "cost", "valor",
	"disponible", "stock", "agotado",
	"envio", "domicilio",
	"recomiend", "recomendar", "suger", "buscar", "encuentra", "muest",
}

var strongBrandish = []string{
	"gio", "armani", "dior", "versace", "azzaro", "carolina",
	"nitro", "212", "one million", "paco", "rabanne",
	"tom ford", "gucci", "prada", "ysl", "valentino", "gaultier",
}

// LooksLikeProductQuestion is the stricter store-intent detector: it
// fires on clear price/stock/search signals or on generic verbs paired
// with a domain word or a brand, never on bare greetings.
func LooksLikeProductQuestion(userText string) bool {
	t := textutil.Normalize(userText)
	if t == "" || genericShortTexts[t] {
		return false
	}
	for _, s := range strongSignals {
		if strings.Contains(t, s) {
			return true
		}
	}
	hasDomain := strings.Contains(t, "perfume") || strings.Contains(t, "fragancia") || strings.Contains(t, "colonia")
	hasVerb := false
	for _, v := range []string{"tienes", "tienen", "hay", "manej", "venden", "ofrecen"} {
		if strings.Contains(t, v) {
			hasVerb = true
			break
		}
	}
	hasBrandish := false
	for _, b := range strongBrandish {
		if strings.Contains(t, b) {
			hasBrandish = true
			break
		}
	}
	if hasVerb && (hasDomain || hasBrandish) {
		return true
	}
	if len(strings.Fields(t)) <= 6 && len(t) >= 6 {
		return hasBrandish
	}
	return false
}

// ScoreProductMatch rates how well a product name answers a query on a
// 0-100 scale: exact match 100, substring 50-90 by coverage, otherwise
// 20 plus 10 per matched word of three letters or more.
func ScoreProductMatch(query, productName string) int {
	q := textutil.Normalize(query)
	n := textutil.Normalize(productName)
	if q == "" || n == "" {
		return 0
	}
	if n == q {
		return 100
	}
	if strings.Contains(n, q) {
		cover := len(q) * 40 / max(1, len(n))
		if cover > 40 {
			cover = 40
		}
		return 50 + cover
	}
	var hits int
	var qwords int
	for _, w := range strings.Fields(q) {
		if len(w) < 3 {
			continue
		}
		qwords++
		if strings.Contains(n, w) {
			hits++
		}
	}
	if qwords == 0 || hits == 0 {
		return 0
	}
	return 20 + hits*10
}

var choiceNumberRe = regexp.MustCompile(`\b([1-9])\b`)

// ParseChoiceNumber pulls a single-digit option number out of a reply
// like "la 2 porfa".
func ParseChoiceNumber(userText string) (int, bool) {
	m := choiceNumberRe.FindStringSubmatch(strings.TrimSpace(userText))
	if m == nil {
		return 0, false
	}
	return int(m[1][0] - '0'), true
}

// BuildCaption renders the WhatsApp product card body. A non-empty
// custom caption wins wholesale.
func BuildCaption(p models.Product, custom string) string {
	if c := strings.TrimSpace(custom); c != "" {
		return c
	}
	genderLabel := map[string]string{"hombre": "Hombre", "mujer": "Mujer", "unisex": "Unisex"}[p.Gender]

	var lines []string
	if p.Name != "" {
		lines = append(lines, "✨ "+p.Name)
	}
	if p.Size != "" {
		lines = append(lines, "📏 Tamaño: "+p.Size)
	}
	if p.Brand != "" {
		lines = append(lines, "🏷️ Marca: "+p.Brand)
	}
	if genderLabel != "" {
		lines = append(lines, "👤 Para: "+genderLabel)
	}
	if len(p.Aromas) > 0 {
		lines = append(lines, "🌿 Aromas: "+strings.Join(p.Aromas, ", "))
	}
	if p.Price != "" {
		lines = append(lines, "💰 Precio: $"+p.Price)
	}
	if p.ShortDesc != "" {
		lines = append(lines, "\n📝 "+p.ShortDesc)
	}
	if p.Permalink != "" {
		lines = append(lines, "\n🛒 Ver producto: "+p.Permalink)
	}
	if p.RealImage != "" {
		lines = append(lines, "📸 Ver foto real: "+p.RealImage)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
