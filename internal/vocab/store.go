package vocab

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the session's deduplicated vocabulary. Upserts are expected
// to arrive through a single writer, but the store locks anyway so reads
// from the presentation layer stay safe.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	// reading → key, so a kana-only variant merges into the kanji entry
	// that shares its reading
	readings map[string]string
}

func NewStore() *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		readings: make(map[string]string),
	}
}

// Upsert inserts a candidate or merges it into the existing entry for the
// same normalized surface form. Merging bumps the occurrence count, appends
// the provenance turn id, and re-resolves the JLPT level from all
// observations so far.
func (s *Store) Upsert(c Candidate, turnID uuid.UUID) {
	key := normalizeSurface(c.Surface)
	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reading := normalizeSurface(c.Reading)
	if _, held := s.entries[key]; !held && reading != "" {
		if key == reading {
			// kana spelling of a word we already hold under its kanji form
			if alias, ok := s.readings[reading]; ok {
				key = alias
			}
		} else if kana, ok := s.entries[reading]; ok {
			// kanji form of a word first seen in kana: an entry keyed by
			// the reading string can only have entered as the kana
			// spelling, so merge into it and adopt the kanji surface
			kana.Surface = strings.TrimSpace(c.Surface)
			key = reading
		}
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &Entry{
			Surface:    strings.TrimSpace(c.Surface),
			Reading:    c.Reading,
			MeaningKR:  c.MeaningKR,
			MeaningEN:  c.MeaningEN,
			POS:        c.POS,
			Example:    c.Example,
			Notes:      c.Notes,
			FirstSeen:  time.Now(),
			levelVotes: make(map[Level]int),
		}
		s.entries[key] = entry
		s.order = append(s.order, key)
	}
	if reading != "" {
		if _, taken := s.readings[reading]; !taken {
			s.readings[reading] = key
		}
	}

	entry.Count++
	if turnID != uuid.Nil {
		entry.Provenance = append(entry.Provenance, turnID)
	}
	entry.levelVotes[c.Level]++
	entry.Level = resolveLevel(entry.levelVotes)

	// keep the richest observation for the optional fields
	if entry.Reading == "" {
		entry.Reading = c.Reading
	}
	if entry.MeaningKR == "" {
		entry.MeaningKR = c.MeaningKR
	}
	if entry.MeaningEN == "" {
		entry.MeaningEN = c.MeaningEN
	}
	if entry.Example == "" {
		entry.Example = c.Example
	}
	if entry.Notes == "" {
		entry.Notes = c.Notes
	}
}

// All returns every entry in first-seen order.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.entries[key])
	}
	return out
}

// Filter returns entries at or above the requested strictness in the
// ordering N5 < N4 < N3 < N2 < N1. Unclassified entries only appear when
// no minimum is requested.
func (s *Store) Filter(min Level) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		e := s.entries[key]
		if min == LevelUnclassified || e.Level >= min {
			out = append(out, *e)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear drops every entry. Called when a new conversation session starts.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.readings = make(map[string]string)
	s.order = nil
}

// Export renders the store as a flat study sheet, grouped from N5 up to N1
// with unclassified entries last, first-seen order within each group. Pure
// read: two calls on an unchanged store return identical text.
func (s *Store) Export() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.WriteString("📚 Today's Vocabulary List\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	for _, level := range []Level{LevelN5, LevelN4, LevelN3, LevelN2, LevelN1, LevelUnclassified} {
		var group []*Entry
		for _, key := range s.order {
			if e := s.entries[key]; e.Level == level {
				group = append(group, e)
			}
		}
		if len(group) == 0 {
			continue
		}

		b.WriteString(fmt.Sprintf("📊 %s Level\n", level))
		b.WriteString(strings.Repeat("-", 20) + "\n")
		for _, e := range group {
			b.WriteString(fmt.Sprintf("• %s (%s)\n", e.Surface, e.Reading))
			b.WriteString(fmt.Sprintf("  → %s\n", e.MeaningKR))
			if e.Example != "" {
				b.WriteString(fmt.Sprintf("  例: %s\n", e.Example))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
