package vocab

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is a JLPT difficulty grade. Ordering runs N5 (easiest) to N1
// (hardest); Unclassified sorts below every graded level.
type Level int

const (
	LevelUnclassified Level = iota
	LevelN5
	LevelN4
	LevelN3
	LevelN2
	LevelN1
)

var levelNames = map[Level]string{
	LevelUnclassified: "unclassified",
	LevelN5:           "N5",
	LevelN4:           "N4",
	LevelN3:           "N3",
	LevelN2:           "N2",
	LevelN1:           "N1",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unclassified"
}

// ParseLevel maps a model-reported level string onto a Level. Anything it
// does not recognize becomes Unclassified rather than an error, since the
// analysis model is free-form about grading.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N5":
		return LevelN5
	case "N4":
		return LevelN4
	case "N3":
		return LevelN3
	case "N2":
		return LevelN2
	case "N1":
		return LevelN1
	}
	return LevelUnclassified
}

// Candidate is a single vocabulary observation from one analysis pass.
type Candidate struct {
	Surface   string
	Reading   string
	MeaningKR string
	MeaningEN string
	POS       string
	Level     Level
	Example   string
	Notes     string
}

// Entry is a deduplicated vocabulary record accumulated across turns.
type Entry struct {
	Surface   string
	Reading   string
	MeaningKR string
	MeaningEN string
	POS       string
	Level     Level
	Example   string
	Notes     string

	Count      int
	Provenance []uuid.UUID
	FirstSeen  time.Time

	// votes per observed level; the resolved Level is recomputed from
	// these on every merge so arrival order never matters
	levelVotes map[Level]int
}

// normalizeSurface produces the dedup key for a surface form.
func normalizeSurface(surface string) string {
	return strings.ToLower(strings.TrimSpace(surface))
}

// resolveLevel picks the level with the most observations. Ties go to the
// more specific (harder) grade, and any graded level beats Unclassified,
// which keeps the result independent of merge order.
func resolveLevel(votes map[Level]int) Level {
	best := LevelUnclassified
	bestVotes := 0
	for _, l := range []Level{LevelN5, LevelN4, LevelN3, LevelN2, LevelN1} {
		if v := votes[l]; v > 0 && v >= bestVotes {
			best = l
			bestVotes = v
		}
	}
	return best
}
