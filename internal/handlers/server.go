package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"verabot/config"
	"verabot/internal/breaker"
	"verabot/internal/catalog"
	"verabot/internal/services"
	"verabot/internal/store"
)

// Server wires the HTTP surface: the WhatsApp webhook plus the small
// staff API (takeover, CRM lookup, catalog).
type Server struct {
	cfg    *config.Config
	engine *services.Engine
	convs  *store.Conversations
	msgs   *store.Messages
	cache  *catalog.Cache
	syncer *catalog.Syncer
	brk    *breaker.Breaker
}

func NewServer(cfg *config.Config, engine *services.Engine, convs *store.Conversations,
	msgs *store.Messages, cache *catalog.Cache, syncer *catalog.Syncer, brk *breaker.Breaker) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		convs:  convs,
		msgs:   msgs,
		cache:  cache,
		syncer: syncer,
		brk:    brk,
	}
}

// Router builds the mux with the logging middleware applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.Health()).Methods("GET")
	r.HandleFunc("/webhook", s.VerifyWebhook()).Methods("GET")
	r.HandleFunc("/webhook", s.ReceiveWebhook()).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/conversations/takeover", s.SetTakeover()).Methods("POST")
	api.HandleFunc("/crm/{phone}", s.GetConversation()).Methods("GET")
	api.HandleFunc("/catalog/products", s.SearchCatalog()).Methods("GET")
	api.HandleFunc("/catalog/sync", s.TriggerSync()).Methods("POST")

	return alice.New(requestLogger).Then(r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Could not marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// Health reports process status plus the state of the moving parts a
// deployment cares about.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.cache.Count()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		body := map[string]interface{}{
			"status":         "ok",
			"catalog_cached": count,
			"store_breaker":  s.brk.Snapshot(),
		}
		if s.syncer != nil {
			if last, err := s.syncer.LastSync(); err == nil && last != nil {
				body["catalog_last_sync"] = last.UTC()
			}
		}
		s.respondJSON(w, http.StatusOK, body)
	}
}
