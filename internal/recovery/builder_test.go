package recovery

import (
	"errors"
	"strings"
	"testing"

	"github.com/amparo-app/amparo/internal/storage"
)

type fakeSobrietyStore struct {
	records []storage.SobrietyRecord
	err     error
}

func (f fakeSobrietyStore) ListActiveSobriety(userID string) ([]storage.SobrietyRecord, error) {
	return f.records, f.err
}

type fakeMoodStore struct {
	entries  []storage.MoodEntry
	err      error
	gotLimit int
}

func (f *fakeMoodStore) ListRecentMoods(userID string, limit int) ([]storage.MoodEntry, error) {
	f.gotLimit = limit
	return f.entries, f.err
}

func newTestBuilder(sob fakeSobrietyStore, moods *fakeMoodStore) *ContextBuilder {
	return NewContextBuilder(sob, moods, "português brasileiro")
}

// TestBuild_RecordsNoMoods: one active record ("Tabaco", 12 days) and no
// mood entries. The context names the addiction and streak but has no mood
// clause.
func TestBuild_RecordsNoMoods(t *testing.T) {
	b := newTestBuilder(
		fakeSobrietyStore{records: []storage.SobrietyRecord{
			{UserID: "u1", Addiction: "Tabaco", StreakDays: 12, Active: true},
		}},
		&fakeMoodStore{},
	)

	got := b.Build("u1")

	for _, want := range []string{"Tabaco", "12"} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q: %s", want, got)
		}
	}
	if strings.Contains(got, "Humor médio") {
		t.Errorf("context has mood clause despite no entries: %s", got)
	}
}

func TestBuild_MultipleRecordsOrderPreserved(t *testing.T) {
	b := newTestBuilder(
		fakeSobrietyStore{records: []storage.SobrietyRecord{
			{Addiction: "Tabaco", StreakDays: 12},
			{Addiction: "Álcool", StreakDays: 5},
		}},
		&fakeMoodStore{},
	)

	got := b.Build("u1")

	if !strings.Contains(got, "Tabaco, Álcool") {
		t.Errorf("addiction names not comma-joined in record order: %s", got)
	}
	if !strings.Contains(got, "12, 5") {
		t.Errorf("streak days not comma-joined in record order: %s", got)
	}
}

func TestBuild_MoodAverageOneDecimal(t *testing.T) {
	moods := &fakeMoodStore{entries: []storage.MoodEntry{
		{Mood: 4}, {Mood: 3}, {Mood: 3},
	}}
	b := newTestBuilder(fakeSobrietyStore{}, moods)

	got := b.Build("u1")

	// (4+3+3)/3 = 3.333... rounds to 3.3.
	if !strings.Contains(got, "3.3") {
		t.Errorf("context missing mood average 3.3: %s", got)
	}
	if moods.gotLimit != 7 {
		t.Errorf("mood fetch limit = %d, want 7", moods.gotLimit)
	}
}

// TestBuild_Deterministic verifies identical input records produce an
// identical context string.
func TestBuild_Deterministic(t *testing.T) {
	b := newTestBuilder(
		fakeSobrietyStore{records: []storage.SobrietyRecord{
			{Addiction: "Tabaco", StreakDays: 12},
		}},
		&fakeMoodStore{entries: []storage.MoodEntry{{Mood: 4}, {Mood: 2}}},
	)

	first := b.Build("u1")
	for i := 0; i < 5; i++ {
		if got := b.Build("u1"); got != first {
			t.Fatalf("Build not deterministic:\nfirst: %s\ngot:   %s", first, got)
		}
	}
}

// TestBuild_FetchFailuresOmitSections verifies store errors degrade to
// silent omission rather than blocking the message.
func TestBuild_FetchFailuresOmitSections(t *testing.T) {
	b := newTestBuilder(
		fakeSobrietyStore{err: errors.New("db down")},
		&fakeMoodStore{err: errors.New("db down")},
	)

	got := b.Build("u1")

	if got == "" {
		t.Fatal("context must not be empty on fetch failure")
	}
	if !strings.Contains(got, "assistente especializado") {
		t.Errorf("persona preamble missing: %s", got)
	}
	if !strings.Contains(got, "português brasileiro") {
		t.Errorf("language instruction missing: %s", got)
	}
	if strings.Contains(got, "recuperação de:") || strings.Contains(got, "Humor médio") {
		t.Errorf("failed sections must be omitted: %s", got)
	}
}
