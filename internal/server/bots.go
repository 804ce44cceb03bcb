package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	parley "github.com/novandi/parley"
)

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var bot parley.Bot
	if err := json.NewDecoder(r.Body).Decode(&bot); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(bot.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if bot.ID == "" {
		bot.ID = parley.NewID()
	}
	now := parley.NowUnix()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	if err := s.store.CreateBot(r.Context(), bot); err != nil {
		s.logger.Error("create bot failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "create bot failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(bot)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	bots, err := s.store.ListBots(r.Context(), limit)
	if err != nil {
		s.logger.Error("list bots failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list bots failed")
		return
	}
	if bots == nil {
		bots = []parley.Bot{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bots)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	bot, err := s.store.GetBot(r.Context(), botID)
	if err != nil {
		s.logger.Error("get bot failed", "bot_id", botID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "get bot failed")
		return
	}
	if bot == nil {
		s.writeError(w, http.StatusNotFound, "bot not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bot)
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	existing, err := s.store.GetBot(r.Context(), botID)
	if err != nil {
		s.logger.Error("get bot failed", "bot_id", botID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "get bot failed")
		return
	}
	if existing == nil {
		s.writeError(w, http.StatusNotFound, "bot not found")
		return
	}

	var bot parley.Bot
	if err := json.NewDecoder(r.Body).Decode(&bot); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	bot.ID = botID
	bot.CreatedAt = existing.CreatedAt
	bot.UpdatedAt = parley.NowUnix()

	if err := s.store.UpdateBot(r.Context(), bot); err != nil {
		s.logger.Error("update bot failed", "bot_id", botID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "update bot failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bot)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	if err := s.store.DeleteBot(r.Context(), botID); err != nil {
		s.logger.Error("delete bot failed", "bot_id", botID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "delete bot failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertIntent(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	bot, err := s.store.GetBot(r.Context(), botID)
	if err != nil {
		s.logger.Error("get bot failed", "bot_id", botID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "get bot failed")
		return
	}
	if bot == nil {
		s.writeError(w, http.StatusNotFound, "bot not found")
		return
	}

	var intent parley.IntentConfig
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(intent.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "intent name is required")
		return
	}

	if err := s.store.UpsertIntent(r.Context(), botID, intent); err != nil {
		s.logger.Error("upsert intent failed", "bot_id", botID, "intent", intent.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "upsert intent failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(intent)
}

func (s *Server) handleDeleteIntent(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	name := chi.URLParam(r, "name")

	if err := s.store.DeleteIntent(r.Context(), botID, name); err != nil {
		s.logger.Error("delete intent failed", "bot_id", botID, "intent", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "delete intent failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
