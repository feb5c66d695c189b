package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// SetTakeover flips the bot on or off for one conversation so a staff
// member can take the chat.
func (s *Server) SetTakeover() http.HandlerFunc {
	type request struct {
		Phone    string `json:"phone"`
		Takeover bool   `json:"takeover"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if req.Phone == "" {
			s.respondError(w, http.StatusBadRequest, "phone is required")
			return
		}
		if err := s.convs.EnsureExists(req.Phone); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.convs.SetTakeover(req.Phone, req.Takeover); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Str("phone", req.Phone).Bool("takeover", req.Takeover).Msg("Takeover updated")
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"phone":    req.Phone,
			"takeover": req.Takeover,
		})
	}
}

// GetConversation returns one CRM row plus recent message history.
func (s *Server) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := mux.Vars(r)["phone"]
		if phone == "" {
			s.respondError(w, http.StatusBadRequest, "phone is required")
			return
		}
		conv, err := s.convs.Snapshot(phone)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		history, err := s.msgs.History(phone, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"conversation": conv,
			"messages":     history,
		})
	}
}

// SearchCatalog queries the local product cache.
func (s *Server) SearchCatalog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("search")
		if query == "" {
			s.respondError(w, http.StatusBadRequest, "search is required")
			return
		}
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		products, err := s.cache.Search(query, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"count":    len(products),
			"products": products,
		})
	}
}

// TriggerSync runs a catalog sync on demand. ?full=1 walks the whole
// catalog instead of the newest pages.
func (s *Server) TriggerSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.syncer == nil {
			s.respondError(w, http.StatusServiceUnavailable, "catalog sync not configured")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		full := r.URL.Query().Get("full") == "1"
		var (
			res interface{}
			err error
		)
		if full {
			res, err = s.syncer.SyncFull(ctx)
		} else {
			res, err = s.syncer.SyncRecent(ctx)
		}
		if err != nil {
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"full":   full,
			"result": res,
		})
	}
}
