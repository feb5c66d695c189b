package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"verabot/config"
	"verabot/internal/adapters/woocommerce"
	"verabot/internal/ai"
	"verabot/internal/breaker"
	"verabot/internal/catalog"
	"verabot/internal/models"
	"verabot/internal/store"
	"verabot/internal/textutil"
)

// MediaExtractor turns media bytes into text for routing.
type MediaExtractor interface {
	Extract(ctx context.Context, msgType string, media []byte, mimeType string) ai.MediaResult
}

// Archiver stores inbound media for later staff review.
type Archiver interface {
	Enabled() bool
	Store(ctx context.Context, phone, direction string, messageID int64, data []byte, mimeType string) (string, error)
	PublicURL(key string) string
}

// EventSink mirrors conversation events to an external consumer.
type EventSink interface {
	Publish(eventType, phone string, payload interface{})
}

// Replies the bot sends verbatim.
const (
	replyMediaFallback = "📩 Recibí tu audio, imagen o documento, pero no pude interpretarlo bien.\n\n¿Me lo puedes escribir en texto o reenviar el archivo? 🙏"
	replyHandoffAck    = "¡Claro! 👤 Te conecto con uno de nuestros asesores. En un momento te escriben por aquí."
	replyReceiptAck    = "✅ ¡Recibimos tu comprobante de pago! Un asesor lo verificará y te confirmamos en breve 🙌"
	replyNoResults     = "No encontré ese perfume 😔 ¿Me das el nombre como aparece en la caja?"
	replyWhichPhoto    = "¿De cuál perfume quieres la foto? 📸 Dime el nombre y te la envío."
	replyWhichBuy      = "¡Genial! 🛍️ ¿Cuál perfume deseas comprar?"
	replyShipping      = "¡Perfecto! 🚚 Para coordinar el envío, cuéntame tu ciudad y barrio."
	replyChoiceRetry   = "No logré identificar la opción 🤔 Respóndeme solo con el número de la lista, por ejemplo: 1"
	replyGreeting      = "¡Hola! 👋 Soy el asistente de VeraPerfumes. Puedo buscarte perfumes, darte precios y enviarte fotos reales. ¿Qué fragancia buscas hoy?"
	replyBuyChecklist  = "¡Excelente elección! 🧾 Para completar tu pedido cuéntame:\n1) ¿Cuántas unidades?\n2) Nombre completo\n3) Dirección y ciudad\n4) Método de pago"
)

var shipRe = regexp.MustCompile(`\b(envio|enviar|domicilio|direccion)\b`)

const (
	duplicateWindow = 20 * time.Second
	searchLimit     = 8
	maxChoices      = 4

	// Fuzzy choice resolution thresholds.
	choiceMinScore = 30
	strongMinScore = 70
	strongScoreGap = 18
)

// Engine runs the inbound pipeline: dedupe, log, understand media,
// route intent and answer. One message per phone is processed at a
// time.
type Engine struct {
	convs   *store.Conversations
	msgs    *store.Messages
	disp    *Dispatcher
	sender  MessageSender
	media   MediaExtractor
	finder  ProductFinder
	cache   *catalog.Cache
	brk     *breaker.Breaker
	archive Archiver
	events  EventSink
	allowed map[string]bool

	mu sync.Mutex
	// One entry per phone ever seen, never evicted. Bounded by the
	// customer base, not by traffic.
	locks map[string]*sync.Mutex
}

func NewEngine(cfg *config.Config, convs *store.Conversations, msgs *store.Messages, disp *Dispatcher,
	sender MessageSender, media MediaExtractor, finder ProductFinder, cache *catalog.Cache,
	brk *breaker.Breaker, archive Archiver, events EventSink) *Engine {
	var allowed map[string]bool
	if len(cfg.AllowedPhones) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedPhones))
		for _, p := range cfg.AllowedPhones {
			allowed[p] = true
		}
	}
	return &Engine{
		convs:   convs,
		msgs:    msgs,
		disp:    disp,
		sender:  sender,
		media:   media,
		finder:  finder,
		cache:   cache,
		brk:     brk,
		archive: archive,
		events:  events,
		allowed: allowed,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockPhone serializes handling per phone so replies keep their order.
func (e *Engine) lockPhone(phone string) func() {
	e.mu.Lock()
	m, ok := e.locks[phone]
	if !ok {
		m = &sync.Mutex{}
		e.locks[phone] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e *Engine) publish(eventType, phone string, payload interface{}) {
	if e.events != nil {
		e.events.Publish(eventType, phone, payload)
	}
}

// HandleInbound processes one normalized inbound message end to end.
func (e *Engine) HandleInbound(ctx context.Context, in models.InboundMessage) {
	if in.Phone == "" {
		return
	}
	defer e.lockPhone(in.Phone)()

	if e.allowed != nil && !e.allowed[in.Phone] {
		log.Debug().Str("phone", in.Phone).Msg("Phone not in allowlist, ignoring")
		return
	}
	if err := e.convs.EnsureExists(in.Phone); err != nil {
		log.Error().Err(err).Str("phone", in.Phone).Msg("Could not ensure conversation")
		return
	}
	if dup, err := e.msgs.RecentDuplicate(in.Phone, in.MsgType, in.Text, in.MediaID, duplicateWindow); err == nil && dup {
		log.Debug().Str("phone", in.Phone).Msg("Duplicate delivery, skipping")
		return
	}

	msgID, err := e.msgs.Insert(&models.Message{
		Phone:       in.Phone,
		Direction:   models.DirectionIn,
		MsgType:     in.MsgType,
		Text:        in.Text,
		MediaID:     in.MediaID,
		MediaURL:    in.MediaURL,
		MimeType:    in.MimeType,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		DurationSec: in.DurationSec,
	})
	if err != nil {
		log.Error().Err(err).Str("phone", in.Phone).Msg("Could not log inbound message")
	}
	e.publish("message.received", in.Phone, map[string]interface{}{
		"msg_type": in.MsgType, "text": in.Text,
	})

	conv, err := e.convs.Snapshot(in.Phone)
	if err != nil {
		log.Error().Err(err).Str("phone", in.Phone).Msg("Could not load conversation")
		return
	}
	// Staff took over: keep logging, stay silent.
	if conv.Takeover {
		log.Debug().Str("phone", in.Phone).Msg("Takeover active, bot silent")
		return
	}

	userText := in.Text
	extracted := ""
	if isMediaType(in.MsgType) {
		result, ok := e.understandMedia(ctx, msgID, in)
		if !ok {
			e.disp.SendTextChunks(ctx, in.Phone, replyMediaFallback)
			return
		}
		if result.Classification == "receipt" {
			e.handleReceipt(ctx, in.Phone, result)
			return
		}
		if result.Classification == "transcript" {
			userText = result.Text
		} else {
			extracted = result.Text
		}
	}

	intent := ai.DetectIntent(userText, in.MsgType, conv.AwaitedState, extracted)
	if err := e.convs.SetIntent(in.Phone, string(intent.Intent), intent.Confidence); err != nil {
		log.Error().Err(err).Str("phone", in.Phone).Msg("Could not store intent")
	}
	e.publish("intent.detected", in.Phone, intent)
	log.Info().Str("phone", in.Phone).Str("intent", string(intent.Intent)).
		Float64("confidence", intent.Confidence).Msg("Intent routed")

	switch intent.Intent {
	case ai.IntentChoice:
		e.handleChoice(ctx, in.Phone, conv, intent.Choice, userText)
	case ai.IntentHumanHandoff:
		e.handleHandoff(ctx, in.Phone)
	case ai.IntentPhotoRequest:
		e.handlePhotoRequest(ctx, in.Phone, conv)
	case ai.IntentBuyFlow:
		e.handleBuyFlow(ctx, in.Phone, conv, userText)
	case ai.IntentPreferenceReco:
		e.handlePreference(ctx, in.Phone, userText)
	case ai.IntentPriceStock, ai.IntentCompare, ai.IntentProductSearch:
		query := intent.Query
		if query == "" {
			query = userText
		}
		e.searchAndReply(ctx, in.Phone, query)
	default:
		if intent.Source == "image_no_strong_signal" {
			e.disp.SendTextChunks(ctx, in.Phone, replyMediaFallback)
			return
		}
		// A pending numbered list answered in words instead of digits.
		if opts := store.AwaitedOptions(conv); len(opts) > 0 {
			if picked := pickChoice(opts, 0, userText); picked != nil {
				e.sendChosen(ctx, in.Phone, *picked)
				return
			}
		}
		e.disp.SendReply(ctx, in.Phone, replyGreeting)
	}
}

func isMediaType(msgType string) bool {
	switch msgType {
	case "image", "audio", "document", "voice":
		return true
	}
	return false
}

// understandMedia downloads, archives and interprets one media
// message. ok is false when no usable text came out.
func (e *Engine) understandMedia(ctx context.Context, msgID int64, in models.InboundMessage) (ai.MediaResult, bool) {
	data := in.MediaBytes
	mime := in.MimeType
	if len(data) == 0 && in.MediaID != "" {
		var err error
		data, mime, err = e.sender.DownloadMedia(ctx, in.MediaID)
		if err != nil {
			log.Warn().Err(err).Str("phone", in.Phone).Str("media_id", in.MediaID).Msg("Media download failed")
			return ai.MediaResult{}, false
		}
	}
	if len(data) == 0 {
		return ai.MediaResult{}, false
	}

	if e.archive != nil && e.archive.Enabled() {
		key, err := e.archive.Store(ctx, in.Phone, models.DirectionIn, msgID, data, mime)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("phone", in.Phone).Msg("Media archive failed")
		case key != "" && in.MediaURL == "" && msgID > 0:
			if url := e.archive.PublicURL(key); url != "" {
				if err := e.msgs.SetMediaURL(msgID, url); err != nil {
					log.Error().Err(err).Int64("msg", msgID).Msg("Could not record archive URL")
				}
			}
		}
	}

	result := e.media.Extract(ctx, in.MsgType, data, mime)
	if msgID > 0 {
		if err := e.msgs.SetExtractedText(msgID, result.Text, result.Meta); err != nil {
			log.Error().Err(err).Int64("msg", msgID).Msg("Could not store extracted text")
		}
	}
	if ai.IsEffectivelyEmptyText(result.Text) {
		return result, false
	}
	return result, true
}

// handleReceipt files a payment proof into the CRM and confirms it.
// Receipt text is never fed into product search.
func (e *Engine) handleReceipt(ctx context.Context, phone string, result ai.MediaResult) {
	note := "Comprobante recibido"
	if result.Extract != nil && result.Extract.Receipt != nil {
		r := result.Extract.Receipt
		var parts []string
		if r.Amount != "" {
			parts = append(parts, "monto "+r.Amount)
		}
		if r.Reference != "" {
			parts = append(parts, "ref "+r.Reference)
		}
		if r.Bank != "" {
			parts = append(parts, r.Bank)
		}
		if len(parts) > 0 {
			note += ": " + strings.Join(parts, ", ")
		}
	} else if result.Text != "" {
		note += ": " + result.Text
	}
	if err := e.convs.MergeFields(phone, store.Fields{}, []string{"comprobante"}, note); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not file receipt")
	}
	e.publish("receipt.received", phone, result.Extract)
	e.disp.SendTextChunks(ctx, phone, replyReceiptAck)
}

func (e *Engine) handleHandoff(ctx context.Context, phone string) {
	if err := e.convs.SetTakeover(phone, true); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not set takeover")
	}
	if err := e.convs.MergeFields(phone, store.Fields{}, nil, "Pidió hablar con un asesor humano"); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not note handoff")
	}
	e.publish("handoff.requested", phone, nil)
	e.disp.SendTextChunks(ctx, phone, replyHandoffAck)
}

// pickChoice resolves an answer to a numbered list: the number when
// valid, otherwise the closest name match above the fuzzy threshold.
func pickChoice(opts []models.ChoiceOption, choice int, userText string) *models.ChoiceOption {
	if choice >= 1 && choice <= len(opts) {
		return &opts[choice-1]
	}
	if n, ok := woocommerce.ParseChoiceNumber(userText); ok && n >= 1 && n <= len(opts) {
		return &opts[n-1]
	}
	var picked *models.ChoiceOption
	bestScore := 0
	for i := range opts {
		if s := woocommerce.ScoreProductMatch(userText, opts[i].Name); s > bestScore {
			bestScore = s
			picked = &opts[i]
		}
	}
	if bestScore < choiceMinScore {
		return nil
	}
	return picked
}

func (e *Engine) handleChoice(ctx context.Context, phone string, conv models.Conversation, choice int, userText string) {
	opts := store.AwaitedOptions(conv)
	if len(opts) == 0 {
		e.searchAndReply(ctx, phone, userText)
		return
	}
	picked := pickChoice(opts, choice, userText)
	if picked == nil {
		e.disp.SendTextChunks(ctx, phone, replyChoiceRetry)
		return
	}
	e.sendChosen(ctx, phone, *picked)
}

func (e *Engine) sendChosen(ctx context.Context, phone string, opt models.ChoiceOption) {
	if err := e.convs.ClearAwaitedChoice(phone); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not clear awaited choice")
	}
	p, err := e.disp.FreshProduct(ctx, opt.ID)
	if err != nil {
		log.Warn().Err(err).Int64("product", opt.ID).Msg("Chosen product unavailable")
		e.disp.SendTextChunks(ctx, phone, replyNoResults)
		return
	}
	e.disp.SendProductCard(ctx, phone, p, false)
}

func (e *Engine) handlePhotoRequest(ctx context.Context, phone string, conv models.Conversation) {
	if conv.LastProductID == 0 {
		e.disp.SendTextChunks(ctx, phone, replyWhichPhoto)
		return
	}
	p, err := e.disp.FreshProduct(ctx, conv.LastProductID)
	if err != nil {
		log.Warn().Err(err).Int64("product", conv.LastProductID).Msg("Last product unavailable")
		e.disp.SendTextChunks(ctx, phone, replyWhichPhoto)
		return
	}
	e.disp.SendProductCard(ctx, phone, p, true)
}

// handleBuyFlow tags purchase interest and walks the customer through
// the order checklist; shipping questions get the city prompt instead.
func (e *Engine) handleBuyFlow(ctx context.Context, phone string, conv models.Conversation, userText string) {
	norm := textutil.Normalize(userText)
	if shipRe.MatchString(norm) {
		if err := e.convs.MergeFields(phone, store.Fields{}, []string{"pendiente_envio"}, ""); err != nil {
			log.Error().Err(err).Str("phone", phone).Msg("Could not tag shipping")
		}
		e.disp.SendTextChunks(ctx, phone, replyShipping)
		return
	}
	if err := e.convs.MergeFields(phone, store.Fields{}, []string{"compra_inminente"}, ""); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not tag purchase intent")
	}
	if conv.LastProductID == 0 {
		e.disp.SendTextChunks(ctx, phone, replyWhichBuy)
		return
	}
	if p, err := e.disp.FreshProduct(ctx, conv.LastProductID); err == nil {
		e.disp.SendProductCard(ctx, phone, p, false)
	} else {
		log.Warn().Err(err).Int64("product", conv.LastProductID).Msg("Buy flow product unavailable")
	}
	e.disp.SendTextChunks(ctx, phone, replyBuyChecklist)
}

func (e *Engine) handlePreference(ctx context.Context, phone, userText string) {
	slots := ai.ParsePreferenceSlots(userText)
	if !slots.Empty() {
		if err := e.convs.ApplyPreferenceSlots(phone, slots); err != nil {
			log.Error().Err(err).Str("phone", phone).Msg("Could not store preferences")
		}
	}
	e.searchAndReply(ctx, phone, userText)
}

// findProducts searches the live store when the breaker allows it and
// falls back to the local cache otherwise.
func (e *Engine) findProducts(ctx context.Context, query string) []models.Product {
	if e.finder != nil && e.finder.Enabled() && !e.brk.IsOpen() {
		products, err := e.finder.SearchProducts(ctx, query, searchLimit)
		if err == nil {
			e.brk.RecordSuccess()
			for _, p := range products {
				_ = e.cache.Upsert(p, nil)
			}
			return products
		}
		e.brk.RecordFailure()
		log.Warn().Err(err).Str("query", query).Msg("Live search failed, trying cache")
	}
	products, err := e.cache.Search(query, searchLimit)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Cache search failed")
		return nil
	}
	return products
}

// searchAndReply answers a product question: a single strong match
// becomes a card, anything else a numbered list of up to four options.
func (e *Engine) searchAndReply(ctx context.Context, phone, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		e.disp.SendReply(ctx, phone, replyGreeting)
		return
	}
	products := e.findProducts(ctx, query)
	if len(products) == 0 {
		e.disp.SendTextChunks(ctx, phone, replyNoResults)
		return
	}
	if len(products) == 1 {
		e.disp.SendProductCard(ctx, phone, products[0], false)
		return
	}

	bestIdx, bestScore, secondScore := 0, -1, -1
	for i, p := range products {
		s := woocommerce.ScoreProductMatch(query, p.Name)
		if s > bestScore {
			bestIdx, secondScore, bestScore = i, bestScore, s
		} else if s > secondScore {
			secondScore = s
		}
	}
	if bestScore >= strongMinScore && bestScore-secondScore >= strongScoreGap {
		e.disp.SendProductCard(ctx, phone, products[bestIdx], false)
		return
	}

	n := len(products)
	if n > maxChoices {
		n = maxChoices
	}
	opts := make([]models.ChoiceOption, 0, n)
	var b strings.Builder
	b.WriteString("Encontré estas opciones 👇\n")
	for i := 0; i < n; i++ {
		p := products[i]
		opts = append(opts, models.ChoiceOption{ID: p.ID, Name: p.Name})
		fmt.Fprintf(&b, "\n%d) %s", i+1, p.Name)
		if p.Price != "" {
			fmt.Fprintf(&b, " — 💰 $%s", p.Price)
		}
	}
	b.WriteString("\n\nResponde con el número de la que te interesa 😉")
	if err := e.convs.SetAwaitedChoice(phone, opts); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not store awaited choice")
	}
	e.disp.SendTextChunks(ctx, phone, b.String())
}
