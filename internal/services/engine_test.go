package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verabot/config"
	"verabot/internal/ai"
	"verabot/internal/models"
	"verabot/internal/store"
)

var assertAnError = errors.New("upstream down")

type fakeMedia struct {
	result ai.MediaResult
	calls  int
}

func (f *fakeMedia) Extract(ctx context.Context, msgType string, media []byte, mimeType string) ai.MediaResult {
	f.calls++
	return f.result
}

type fakeArchive struct {
	keys []string
}

func (f *fakeArchive) Enabled() bool { return true }

func (f *fakeArchive) Store(ctx context.Context, phone, direction string, messageID int64, data []byte, mimeType string) (string, error) {
	key := fmt.Sprintf("%s/%s/%d.jpg", phone, direction, messageID)
	f.keys = append(f.keys, key)
	return key, nil
}

func (f *fakeArchive) PublicURL(key string) string {
	return "https://archive.example/" + key
}

type engineRig struct {
	*testRig
	media  *fakeMedia
	engine *Engine
}

func newEngineRig(t *testing.T, cfg *config.Config) *engineRig {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{ReplyChunkChars: 480}
	}
	rig := newTestRig(t, cfg, nil)
	media := &fakeMedia{}
	eng := NewEngine(cfg, rig.convs, rig.msgs, rig.disp, rig.sender, media,
		rig.finder, rig.cache, rig.brk, nil, nil)
	return &engineRig{testRig: rig, media: media, engine: eng}
}

func textMsg(phone, text string) models.InboundMessage {
	return models.InboundMessage{Phone: phone, MsgType: "text", Text: text}
}

func TestEngineIgnoresPhonesOutsideAllowlist(t *testing.T) {
	rig := newEngineRig(t, &config.Config{ReplyChunkChars: 480, AllowedPhones: []string{"57999"}})

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "hola"))

	assert.Empty(t, rig.sender.texts)
	history, err := rig.msgs.History("57300", 10)
	require.NoError(t, err)
	assert.Empty(t, history, "blocked phones are not even logged")
}

func TestEngineSkipsDuplicateDeliveries(t *testing.T) {
	rig := newEngineRig(t, nil)
	msg := textMsg("57300", "quiero un asesor")

	rig.engine.HandleInbound(context.Background(), msg)
	rig.engine.HandleInbound(context.Background(), msg)

	// one handoff ack, not two
	require.Len(t, rig.sender.texts, 1)
}

func TestEngineSilentDuringTakeover(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetTakeover("57300", true))

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "precio de one million"))

	assert.Empty(t, rig.sender.texts, "bot stays silent while staff owns the chat")
	history, err := rig.msgs.History("57300", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "inbound still logged")
}

func TestEngineHandoffSetsTakeover(t *testing.T) {
	rig := newEngineRig(t, nil)

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "quiero hablar con un asesor"))

	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.True(t, conv.Takeover)
	assert.Contains(t, conv.Notes, "asesor humano")
	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "asesores")
}

func TestEngineStrongMatchSendsCard(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.finder.searchOut = []models.Product{sampleProduct()}

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "precio del one million 100ml"))

	require.Len(t, rig.sender.cards, 1)
	assert.Contains(t, rig.sender.cards[0].body, "One Million 100ml")

	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Equal(t, "PRICE_STOCK", conv.IntentCurrent)
	assert.Equal(t, int64(9), conv.LastProductID)
}

func TestEngineAmbiguousSearchOffersNumberedChoices(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.finder.searchOut = []models.Product{
		{ID: 1, Name: "One Million Parfum", Price: "190000", StockStatus: "instock"},
		{ID: 2, Name: "One Million Lucky", Price: "175000", StockStatus: "instock"},
		{ID: 3, Name: "One Million Royal", Price: "180000", StockStatus: "instock"},
	}

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "cuanto vale el one million"))

	require.Len(t, rig.sender.texts, 1)
	list := rig.sender.texts[0].text
	assert.Contains(t, list, "1) One Million Parfum")
	assert.Contains(t, list, "3) One Million Royal")

	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Equal(t, "await_choice", conv.AwaitedState)
	require.Len(t, store.AwaitedOptions(conv), 3)
}

func TestEngineResolvesNumberedChoice(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetAwaitedChoice("57300", []models.ChoiceOption{
		{ID: 8, Name: "Invictus 100ml"},
		{ID: 9, Name: "One Million 100ml"},
	}))
	rig.finder.products[9] = sampleProduct()

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "2"))

	require.Len(t, rig.sender.cards, 1)
	assert.Contains(t, rig.sender.cards[0].body, "One Million 100ml")
	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Empty(t, conv.AwaitedState, "choice answered, nothing awaited")
}

func TestEngineResolvesFuzzyChoiceByName(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetAwaitedChoice("57300", []models.ChoiceOption{
		{ID: 8, Name: "Invictus 100ml"},
		{ID: 9, Name: "One Million 100ml"},
	}))
	rig.finder.products[8] = models.Product{ID: 8, Name: "Invictus 100ml", Price: "160000", StockStatus: "instock"}

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "el invictus"))

	require.Len(t, rig.sender.cards, 1)
	assert.Contains(t, rig.sender.cards[0].body, "Invictus")
}

func TestEngineUnresolvableChoiceAsksAgain(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetAwaitedChoice("57300", []models.ChoiceOption{
		{ID: 8, Name: "Invictus 100ml"},
	}))

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "7"))

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "número")
	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Equal(t, "await_choice", conv.AwaitedState, "list stays pending")
}

func TestEnginePhotoRequestUsesLastProduct(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetLastProduct("57300", 9,
		"https://img.example/f.jpg", "https://img.example/r.jpg", "https://shop.example/p/9"))
	rig.finder.products[9] = sampleProduct()

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "mandame la foto real"))

	require.Len(t, rig.sender.cards, 1)
	assert.Equal(t, "Ver foto real", rig.sender.cards[0].button)
}

func TestEnginePhotoRequestWithoutContextAsks(t *testing.T) {
	rig := newEngineRig(t, nil)

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "enviame la foto"))

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "cuál perfume")
}

func TestEngineBuyFlowSendsCardThenChecklist(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetLastProduct("57300", 9, "", "", ""))
	rig.finder.products[9] = sampleProduct()

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "lo quiero comprar"))

	require.Len(t, rig.sender.cards, 1, "the product under discussion is shown again")
	assert.Contains(t, rig.sender.cards[0].body, "One Million 100ml")
	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "Cuántas unidades")
	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Contains(t, conv.Tags, "compra_inminente")
}

func TestEngineBuyFlowUnresolvableProductStillSendsChecklist(t *testing.T) {
	rig := newEngineRig(t, nil)
	require.NoError(t, rig.convs.EnsureExists("57300"))
	require.NoError(t, rig.convs.SetLastProduct("57300", 404, "", "", ""))

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "lo quiero comprar"))

	assert.Empty(t, rig.sender.cards)
	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "Cuántas unidades")
}

func TestEngineBuyFlowWithoutProductAsksWhich(t *testing.T) {
	rig := newEngineRig(t, nil)

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "quiero pagar"))

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "Cuál perfume")
}

func TestEngineShippingQuestionAsksCity(t *testing.T) {
	rig := newEngineRig(t, nil)

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "hacen envío a domicilio?"))

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "ciudad")
	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Contains(t, conv.Tags, "pendiente_envio")
}

func TestEnginePreferenceStoresSlotsAndSearches(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.finder.searchOut = []models.Product{sampleProduct()}

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "algo dulce para la noche"))

	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Contains(t, conv.Tags, "pref:family:dulce")
	assert.Contains(t, conv.Tags, "pref:occasion:noche")
	require.Len(t, rig.finder.searchCalls, 1)
}

func TestEngineReceiptFiledNotSearched(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.media.result = ai.MediaResult{
		Text:           "Transferencia Bancolombia $185.000 ref 12345",
		Classification: "receipt",
		Extract: &models.StructuredExtract{
			Type:    "receipt",
			Receipt: &models.Receipt{Amount: "185000", Reference: "12345", Bank: "Bancolombia"},
		},
	}

	rig.engine.HandleInbound(context.Background(), models.InboundMessage{
		Phone: "57300", MsgType: "image", MediaBytes: []byte("img"), MimeType: "image/jpeg",
	})

	assert.Empty(t, rig.finder.searchCalls, "receipt text never reaches product search")
	conv, err := rig.convs.Snapshot("57300")
	require.NoError(t, err)
	assert.Contains(t, conv.Tags, "comprobante")
	assert.Contains(t, conv.Notes, "12345")
	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "comprobante")
}

func TestEnginePerfumePhotoSearchesExtractedText(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.media.result = ai.MediaResult{
		Text:           "Paco Rabanne One Million eau de toilette",
		Classification: "perfume",
	}
	rig.finder.searchOut = []models.Product{sampleProduct()}

	rig.engine.HandleInbound(context.Background(), models.InboundMessage{
		Phone: "57300", MsgType: "image", MediaBytes: []byte("img"), MimeType: "image/jpeg",
	})

	require.Len(t, rig.finder.searchCalls, 1)
	assert.Contains(t, rig.finder.searchCalls[0], "One Million")
	require.Len(t, rig.sender.cards, 1)
}

func TestEngineArchivedMediaURLRecorded(t *testing.T) {
	cfg := &config.Config{ReplyChunkChars: 480}
	rig := newTestRig(t, cfg, nil)
	media := &fakeMedia{result: ai.MediaResult{Text: "Paco Rabanne One Million", Classification: "perfume"}}
	archive := &fakeArchive{}
	eng := NewEngine(cfg, rig.convs, rig.msgs, rig.disp, rig.sender, media,
		rig.finder, rig.cache, rig.brk, archive, nil)
	rig.finder.searchOut = []models.Product{sampleProduct()}

	eng.HandleInbound(context.Background(), models.InboundMessage{
		Phone: "57300", MsgType: "image", MediaBytes: []byte("img"), MimeType: "image/jpeg",
	})

	require.Len(t, archive.keys, 1)
	history, err := rig.msgs.History("57300", 10)
	require.NoError(t, err)
	var inbound *models.Message
	for i := range history {
		if history[i].Direction == models.DirectionIn {
			inbound = &history[i]
		}
	}
	require.NotNil(t, inbound)
	assert.Equal(t, "https://archive.example/"+archive.keys[0], inbound.MediaURL)
}

func TestEngineAudioTranscriptRouted(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.media.result = ai.MediaResult{Text: "cuanto vale el invictus", Classification: "transcript"}
	rig.finder.searchOut = []models.Product{{ID: 8, Name: "Invictus 100ml", Price: "160000", StockStatus: "instock"}}

	rig.engine.HandleInbound(context.Background(), models.InboundMessage{
		Phone: "57300", MsgType: "audio", MediaBytes: []byte("ogg"), MimeType: "audio/ogg",
	})

	require.Len(t, rig.sender.cards, 1)
	assert.Contains(t, rig.sender.cards[0].body, "Invictus")
}

func TestEngineUnusableMediaSendsFallback(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.media.result = ai.MediaResult{Text: ""}

	rig.engine.HandleInbound(context.Background(), models.InboundMessage{
		Phone: "57300", MsgType: "audio", MediaBytes: []byte("ogg"), MimeType: "audio/ogg",
	})

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "no pude interpretarlo")
}

func TestEngineNoResultsReply(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.finder.searchOut = nil

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "precio del perfume fantasma xyz"))

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "No encontré")
}

func TestEngineLiveSearchFailureFallsBackToCache(t *testing.T) {
	rig := newEngineRig(t, nil)
	rig.finder.searchErr = assertAnError
	require.NoError(t, rig.cache.Upsert(sampleProduct(), nil))

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "precio del one million 100ml"))

	require.Len(t, rig.sender.cards, 1)
	assert.Equal(t, 1, rig.brk.Snapshot().Failures)
}

func TestEngineUnknownTextGetsGreeting(t *testing.T) {
	rig := newEngineRig(t, nil)

	rig.engine.HandleInbound(context.Background(), textMsg("57300", "buenas tardes"))

	require.Len(t, rig.sender.texts, 1)
	assert.Contains(t, rig.sender.texts[0].text, "asistente")
}
