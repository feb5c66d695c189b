package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"verabot/internal/models"
)

// noteAppendCap bounds how much a single merge may add to the notes
// field so one chatty turn cannot flood the CRM row.
const noteAppendCap = 800

// Conversations persists the per-phone CRM state.
type Conversations struct {
	db *sqlx.DB
}

func NewConversations(db *sqlx.DB) *Conversations {
	return &Conversations{db: db}
}

// Fields are the identity columns a merge may fill in. Empty values
// are ignored; existing values are never overwritten.
type Fields struct {
	FirstName    string
	LastName     string
	City         string
	CustomerType string
	Interests    string
}

// EnsureExists creates the row for phone if it is missing. Safe to call
// on every inbound message.
func (c *Conversations) EnsureExists(phone string) error {
	q := c.db.Rebind(`INSERT INTO conversations (phone, updated_at) VALUES (?, ?)
		ON CONFLICT (phone) DO NOTHING`)
	_, err := c.db.Exec(q, phone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure conversation %s: %w", phone, err)
	}
	return nil
}

// Snapshot returns the current row for phone, creating it if needed.
func (c *Conversations) Snapshot(phone string) (models.Conversation, error) {
	if err := c.EnsureExists(phone); err != nil {
		return models.Conversation{}, err
	}
	var conv models.Conversation
	q := c.db.Rebind(`SELECT * FROM conversations WHERE phone = ?`)
	if err := c.db.Get(&conv, q, phone); err != nil {
		return models.Conversation{}, fmt.Errorf("snapshot conversation %s: %w", phone, err)
	}
	return conv, nil
}

// MergeFields applies a fill-don't-clobber merge: empty incoming fields
// are ignored, existing non-empty columns win. Tags are deduplicated
// case-insensitively keeping first-seen order; the note is appended on
// its own line, truncated to a per-call cap.
func (c *Conversations) MergeFields(phone string, f Fields, tagsAdd []string, note string) error {
	if err := c.EnsureExists(phone); err != nil {
		return err
	}
	tx, err := c.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sel := `SELECT * FROM conversations WHERE phone = ?`
	if c.db.DriverName() == "postgres" {
		sel += ` FOR UPDATE`
	}
	var conv models.Conversation
	if err := tx.Get(&conv, tx.Rebind(sel), phone); err != nil {
		return fmt.Errorf("merge select %s: %w", phone, err)
	}

	conv.FirstName = fillField(conv.FirstName, f.FirstName)
	conv.LastName = fillField(conv.LastName, f.LastName)
	conv.City = fillField(conv.City, f.City)
	conv.CustomerType = fillField(conv.CustomerType, f.CustomerType)
	conv.Interests = fillField(conv.Interests, f.Interests)
	conv.Tags = mergeTags(conv.Tags, tagsAdd)
	conv.Notes = appendNote(conv.Notes, note)

	upd := tx.Rebind(`UPDATE conversations SET
		first_name = ?, last_name = ?, city = ?, customer_type = ?,
		interests = ?, tags = ?, notes = ?, updated_at = ?
		WHERE phone = ?`)
	if _, err := tx.Exec(upd, conv.FirstName, conv.LastName, conv.City,
		conv.CustomerType, conv.Interests, conv.Tags, conv.Notes,
		time.Now().UTC(), phone); err != nil {
		return fmt.Errorf("merge update %s: %w", phone, err)
	}
	return tx.Commit()
}

// SetIntent records the last routed intent and its confidence.
func (c *Conversations) SetIntent(phone, intent string, confidence float64) error {
	if err := c.EnsureExists(phone); err != nil {
		return err
	}
	q := c.db.Rebind(`UPDATE conversations SET intent_current = ?, intent_confidence = ?, updated_at = ? WHERE phone = ?`)
	_, err := c.db.Exec(q, intent, confidence, time.Now().UTC(), phone)
	return err
}

// SetTakeover flips the human-takeover flag. While set, the engine logs
// inbound messages but sends nothing.
func (c *Conversations) SetTakeover(phone string, takeover bool) error {
	if err := c.EnsureExists(phone); err != nil {
		return err
	}
	q := c.db.Rebind(`UPDATE conversations SET takeover = ?, updated_at = ? WHERE phone = ?`)
	_, err := c.db.Exec(q, takeover, time.Now().UTC(), phone)
	if err == nil {
		log.Info().Str("phone", phone).Bool("takeover", takeover).Msg("Takeover flag updated")
	}
	return err
}

// SetLastProduct remembers the product last shown to the customer, in
// one shape regardless of which flow produced it.
func (c *Conversations) SetLastProduct(phone string, id int64, featuredImage, realImage, permalink string) error {
	if err := c.EnsureExists(phone); err != nil {
		return err
	}
	q := c.db.Rebind(`UPDATE conversations SET
		last_product_id = ?, last_product_image = ?, last_product_real_image = ?,
		last_product_permalink = ?, updated_at = ? WHERE phone = ?`)
	_, err := c.db.Exec(q, id, featuredImage, realImage, permalink, time.Now().UTC(), phone)
	return err
}

// SetAwaitedChoice stores a pending numbered option list and flips the
// dialogue into the choice-awaiting state.
func (c *Conversations) SetAwaitedChoice(phone string, options []models.ChoiceOption) error {
	if err := c.EnsureExists(phone); err != nil {
		return err
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return err
	}
	q := c.db.Rebind(`UPDATE conversations SET awaited_state = ?, awaited_options = ?, updated_at = ? WHERE phone = ?`)
	_, err = c.db.Exec(q, "await_choice", string(raw), time.Now().UTC(), phone)
	return err
}

// ClearAwaitedChoice drops any pending option list.
func (c *Conversations) ClearAwaitedChoice(phone string) error {
	q := c.db.Rebind(`UPDATE conversations SET awaited_state = '', awaited_options = '', updated_at = ? WHERE phone = ?`)
	_, err := c.db.Exec(q, time.Now().UTC(), phone)
	return err
}

// AwaitedOptions decodes the pending option list, if any.
func AwaitedOptions(conv models.Conversation) []models.ChoiceOption {
	if conv.AwaitedState != "await_choice" || conv.AwaitedOptions == "" {
		return nil
	}
	var opts []models.ChoiceOption
	if err := json.Unmarshal([]byte(conv.AwaitedOptions), &opts); err != nil {
		return nil
	}
	return opts
}

// ApplyPreferenceSlots turns collected recommendation slots into CRM
// tags (pref:<axis>:<value>), interests and a notes line.
func (c *Conversations) ApplyPreferenceSlots(phone string, slots models.PreferenceSlots) error {
	if slots.Empty() {
		return nil
	}
	var tags []string
	addTag := func(axis, value string) {
		value = strings.TrimSpace(strings.ToLower(value))
		if value != "" {
			tags = append(tags, "pref:"+axis+":"+value)
		}
	}
	addTag("gender", slots.Gender)
	for _, v := range slots.Vibe {
		addTag("vibe", v)
	}
	for _, v := range slots.Occasion {
		addTag("occasion", v)
	}
	for _, v := range slots.Family {
		addTag("family", v)
	}
	addTag("sweetness", slots.Sweetness)
	addTag("intensity", slots.Intensity)
	addTag("budget", slots.Budget)
	addTag("brand", slots.Brand)
	if len(tags) == 0 {
		return nil
	}

	interests := ""
	if len(slots.Family) > 0 {
		interests = strings.Join(slots.Family, ", ")
	}
	note := "Preferencias: " + strings.Join(tags, ", ")
	return c.MergeFields(phone, Fields{Interests: interests}, tags, note)
}

func fillField(existing, incoming string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	return strings.TrimSpace(incoming)
}

// mergeTags joins existing and new tags, lowercased, deduplicated
// case-insensitively, first-seen order preserved.
func mergeTags(existing string, add []string) string {
	seen := make(map[string]bool)
	var out []string
	push := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}
	for _, t := range strings.Split(existing, ",") {
		push(t)
	}
	for _, t := range add {
		push(t)
	}
	return strings.Join(out, ", ")
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if r := []rune(note); len(r) > noteAppendCap {
		note = string(r[:noteAppendCap])
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
