package models

import "time"

// Message directions and delivery states as stored in the message log.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	StatusQueued = "queued"
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Conversation is the per-phone CRM row. Field columns default to the
// empty string so merges never have to deal with NULLs.
type Conversation struct {
	Phone            string    `db:"phone" json:"phone"`
	Takeover         bool      `db:"takeover" json:"takeover"`
	FirstName        string    `db:"first_name" json:"first_name"`
	LastName         string    `db:"last_name" json:"last_name"`
	City             string    `db:"city" json:"city"`
	CustomerType     string    `db:"customer_type" json:"customer_type"`
	Interests        string    `db:"interests" json:"interests"`
	Tags             string    `db:"tags" json:"tags"`
	Notes            string    `db:"notes" json:"notes"`
	IntentCurrent    string    `db:"intent_current" json:"intent_current"`
	IntentConfidence float64   `db:"intent_confidence" json:"intent_confidence"`
	AwaitedState     string    `db:"awaited_state" json:"awaited_state"`
	AwaitedOptions   string    `db:"awaited_options" json:"awaited_options"`
	LastProductID    int64     `db:"last_product_id" json:"last_product_id"`
	LastProductImage string    `db:"last_product_image" json:"last_product_image"`
	LastProductReal  string    `db:"last_product_real_image" json:"last_product_real_image"`
	LastProductLink  string    `db:"last_product_permalink" json:"last_product_permalink"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ChoiceOption is one entry of a pending numbered product list,
// serialized as JSON into Conversation.AwaitedOptions.
type ChoiceOption struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Message is one row of the append-only message log.
type Message struct {
	ID            int64     `db:"id" json:"id"`
	Phone         string    `db:"phone" json:"phone"`
	Direction     string    `db:"direction" json:"direction"`
	MsgType       string    `db:"msg_type" json:"msg_type"`
	Text          string    `db:"text" json:"text"`
	MediaURL      string    `db:"media_url" json:"media_url"`
	MediaCaption  string    `db:"media_caption" json:"media_caption"`
	MediaID       string    `db:"media_id" json:"media_id"`
	MimeType      string    `db:"mime_type" json:"mime_type"`
	FileName      string    `db:"file_name" json:"file_name"`
	FileSize      int64     `db:"file_size" json:"file_size"`
	DurationSec   int       `db:"duration_sec" json:"duration_sec"`
	FeaturedImage string    `db:"featured_image" json:"featured_image"`
	RealImage     string    `db:"real_image" json:"real_image"`
	Permalink     string    `db:"permalink" json:"permalink"`
	ExtractedText string    `db:"extracted_text" json:"extracted_text"`
	AIMeta        string    `db:"ai_meta" json:"ai_meta"`
	WAStatus      string    `db:"wa_status" json:"wa_status"`
	WAMessageID   string    `db:"wa_message_id" json:"wa_message_id"`
	WAError       string    `db:"wa_error" json:"wa_error"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// InboundMessage is the normalized shape every channel adapter hands to
// the conversation engine.
type InboundMessage struct {
	Phone       string
	MsgType     string
	Text        string
	MediaID     string
	MediaURL    string
	MimeType    string
	FileName    string
	FileSize    int64
	DurationSec int
	// MediaBytes carries inline media (data URL payloads); when nil the
	// engine downloads by MediaID.
	MediaBytes []byte
}

// Product is the provider-independent catalog item used by the cache,
// the search ranking and the reply builders.
type Product struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Price         string   `json:"price"`
	Permalink     string   `json:"permalink"`
	FeaturedImage string   `json:"featured_image"`
	RealImage     string   `json:"real_image"`
	ShortDesc     string   `json:"short_description"`
	Description   string   `json:"description"`
	Categories    []string `json:"categories"`
	Tags          []string `json:"tags"`
	Aromas        []string `json:"aromas"`
	Brand         string   `json:"brand"`
	Gender        string   `json:"gender"`
	Size          string   `json:"size"`
	StockStatus   string   `json:"stock_status"`
}

// InStock reports whether the store considers the product sellable.
func (p Product) InStock() bool {
	return p.StockStatus == "" || p.StockStatus == "instock"
}

// CachedProduct is the persisted form of a Product plus ranking columns.
type CachedProduct struct {
	ProductID       int64      `db:"product_id"`
	Data            string     `db:"data"`
	Name            string     `db:"name"`
	Price           string     `db:"price"`
	Brand           string     `db:"brand"`
	Permalink       string     `db:"permalink"`
	FeaturedImage   string     `db:"featured_image"`
	RealImage       string     `db:"real_image"`
	StockStatus     string     `db:"stock_status"`
	SearchBlob      string     `db:"search_blob"`
	UpdatedAtSource *time.Time `db:"updated_at_source"`
	CachedAt        time.Time  `db:"cached_at"`
}

// SendResult is the typed outcome of one outbound provider call.
type SendResult struct {
	Sent        bool   `json:"sent"`
	WAMessageID string `json:"wa_message_id,omitempty"`
	Status      int    `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StructuredExtract is the strict-JSON answer of the vision extractor.
type StructuredExtract struct {
	Type       string             `json:"type"`
	Confidence float64            `json:"confidence"`
	SearchText string             `json:"search_text"`
	OCRText    string             `json:"ocr_text"`
	Keywords   []string           `json:"keywords"`
	Candidates []ProductCandidate `json:"product_candidates"`
	Receipt    *Receipt           `json:"receipt,omitempty"`
	Notes      string             `json:"notes"`
}

// ProductCandidate is one product the extractor believes it saw.
type ProductCandidate struct {
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	Variant    string  `json:"variant"`
	Size       string  `json:"size"`
	Confidence float64 `json:"confidence"`
}

// Receipt carries the fields read off a payment proof.
type Receipt struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Date      string `json:"date"`
	Bank      string `json:"bank"`
	PayerName string `json:"payer_name"`
}

// PreferenceSlots are the recommendation axes collected during a
// preference-driven conversation.
type PreferenceSlots struct {
	Gender    string   `json:"gender,omitempty"`
	Vibe      []string `json:"vibe,omitempty"`
	Occasion  []string `json:"occasion,omitempty"`
	Family    []string `json:"family,omitempty"`
	Sweetness string   `json:"sweetness,omitempty"`
	Intensity string   `json:"intensity,omitempty"`
	Budget    string   `json:"budget,omitempty"`
	Brand     string   `json:"brand,omitempty"`
}

// Empty reports whether no slot carries a value.
func (s PreferenceSlots) Empty() bool {
	return s.Gender == "" && len(s.Vibe) == 0 && len(s.Occasion) == 0 &&
		len(s.Family) == 0 && s.Sweetness == "" && s.Intensity == "" &&
		s.Budget == "" && s.Brand == ""
}
