package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amparo-app/amparo/internal/storage"
)

func handleListRules(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := store.ListCrisisRules()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing rules: %v", err)
			return
		}
		if rules == nil {
			rules = []storage.CrisisRule{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
	}
}

func handleCreateRule(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var rule storage.CrisisRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if len(rule.Keywords) == 0 {
			httpError(w, http.StatusBadRequest, "keywords is required")
			return
		}
		if rule.Response == "" {
			httpError(w, http.StatusBadRequest, "response is required")
			return
		}
		if !rule.Severity.Valid() {
			httpError(w, http.StatusBadRequest, "severity must be between %d and %d", storage.SeverityMin, storage.SeverityMax)
			return
		}

		id, err := store.SaveCrisisRule(rule)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "saving rule: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

func handleCreateResource(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var res storage.SupportResource
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if res.Title == "" || res.Content == "" {
			httpError(w, http.StatusBadRequest, "title and content are required")
			return
		}
		if res.ID == "" {
			res.ID = uuid.New().String()
		}

		if err := store.SaveSupportResource(res); err != nil {
			httpError(w, http.StatusInternalServerError, "saving resource: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": res.ID})
	}
}

func handleGetSobriety(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		records, err := store.ListActiveSobriety(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing sobriety records: %v", err)
			return
		}
		if records == nil {
			records = []storage.SobrietyRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	}
}

type createSobrietyRequest struct {
	UserID    string `json:"userId"`
	Addiction string `json:"addiction"`
	StartDate string `json:"startDate"` // RFC 3339 or YYYY-MM-DD
}

func handleCreateSobriety(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createSobrietyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.UserID == "" || req.Addiction == "" {
			httpError(w, http.StatusBadRequest, "userId and addiction are required")
			return
		}

		start, err := parseStartDate(req.StartDate)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid startDate: %v", err)
			return
		}

		record := storage.SobrietyRecord{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			Addiction: req.Addiction,
			StartDate: start,
			Active:    true,
		}
		if err := store.SaveSobrietyRecord(record); err != nil {
			httpError(w, http.StatusInternalServerError, "saving sobriety record: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": record.ID})
	}
}

func parseStartDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

type createMoodRequest struct {
	UserID string `json:"userId"`
	Mood   int    `json:"mood"`
	Note   string `json:"note"`
}

func handleCreateMood(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createMoodRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "userId is required")
			return
		}
		if req.Mood < 1 || req.Mood > 5 {
			httpError(w, http.StatusBadRequest, "mood must be between 1 and 5")
			return
		}

		entry := storage.MoodEntry{
			ID:     uuid.New().String(),
			UserID: req.UserID,
			Mood:   req.Mood,
			Note:   req.Note,
		}
		if err := store.SaveMoodEntry(entry); err != nil {
			httpError(w, http.StatusInternalServerError, "saving mood entry: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
	}
}
