// Package recovery assembles the user-context briefing injected before the
// user's message in the generative prompt.
package recovery

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/amparo-app/amparo/internal/storage"
)

// moodWindow is how many recent mood entries feed the average.
const moodWindow = 7

// SobrietyStore provides the user's active recovery journeys.
// Implemented by storage.Store.
type SobrietyStore interface {
	ListActiveSobriety(userID string) ([]storage.SobrietyRecord, error)
}

// MoodStore provides the user's recent mood entries, most recent first.
// Implemented by storage.Store.
type MoodStore interface {
	ListRecentMoods(userID string, limit int) ([]storage.MoodEntry, error)
}

// ContextBuilder produces the natural-language prefix for the generative
// prompt from the user's sobriety records and recent mood.
type ContextBuilder struct {
	sobriety SobrietyStore
	moods    MoodStore
	language string
}

// NewContextBuilder creates a ContextBuilder. language names the language
// the assistant is instructed to respond in (e.g. "português brasileiro").
func NewContextBuilder(sobriety SobrietyStore, moods MoodStore, language string) *ContextBuilder {
	return &ContextBuilder{sobriety: sobriety, moods: moods, language: language}
}

// Build returns the context string for a user. The output is deterministic
// for identical input records. A failed or empty fetch drops its section
// silently — missing context must never block message delivery.
func (b *ContextBuilder) Build(userID string) string {
	var sb strings.Builder

	sb.WriteString("Você é um assistente especializado em apoio à recuperação de vícios e dependências.")

	records, err := b.sobriety.ListActiveSobriety(userID)
	if err != nil {
		slog.Warn("context: failed to load sobriety records", "user_id", userID, "error", err)
		records = nil
	}
	if len(records) > 0 {
		names := make([]string, len(records))
		streaks := make([]string, len(records))
		for i, r := range records {
			names[i] = r.Addiction
			streaks[i] = fmt.Sprintf("%d", r.StreakDays)
		}
		sb.WriteString(fmt.Sprintf(" O usuário está em recuperação de: %s. Dias de sobriedade: %s.",
			strings.Join(names, ", "), strings.Join(streaks, ", ")))
	}

	moods, err := b.moods.ListRecentMoods(userID, moodWindow)
	if err != nil {
		slog.Warn("context: failed to load mood entries", "user_id", userID, "error", err)
		moods = nil
	}
	if len(moods) > 0 {
		sum := 0
		for _, e := range moods {
			sum += e.Mood
		}
		avg := float64(sum) / float64(len(moods))
		sb.WriteString(fmt.Sprintf(" Humor médio recente (escala 1-5): %.1f.", avg))
	}

	sb.WriteString(" Seja empático, motivador e prático.")
	sb.WriteString(" Em sinais de crise, oriente a buscar ajuda profissional e os recursos de apoio.")
	sb.WriteString(fmt.Sprintf(" Responda em %s.", b.language))

	return sb.String()
}
