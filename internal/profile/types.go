package profile

import "time"

// Level bounds for expertise, processing capacity, and concept mastery.
const (
	MinLevel = 1
	MaxLevel = 5
)

// historyCap bounds the per-user encounter history.
const historyCap = 10

// Profile is a user's cognitive model: how much SQL they know, how much
// complexity they can absorb at once, and what they have seen recently.
type Profile struct {
	UserID             string
	ExpertiseLevel     int            // 1 (beginner) .. 5 (expert)
	ProcessingCapacity int            // 1 .. 5, how much load the user handles comfortably
	ConceptLevels      map[string]int // concept name -> mastery level
	History            []Encounter    // newest last, at most historyCap entries
}

// Encounter is one query the user saw, with the complexity it carried and
// whether an explanation was attached.
type Encounter struct {
	Concept    string    `json:"concept"`
	Complexity int       `json:"complexity"`
	Explained  bool      `json:"explained"`
	At         time.Time `json:"at"`
}

// Default returns the profile assumed for a user we have never seen.
func Default(userID string) Profile {
	return Profile{
		UserID:             userID,
		ExpertiseLevel:     2,
		ProcessingCapacity: 2,
		ConceptLevels:      make(map[string]int),
	}
}

// Perceive adjusts a raw complexity score for this user. Experts find
// queries simpler than their structural score suggests, beginners find
// them harder.
func (p Profile) Perceive(complexity int) int {
	switch {
	case p.ExpertiseLevel >= 4:
		complexity--
	case p.ExpertiseLevel <= 1:
		complexity++
	}
	return clampLevel(complexity)
}

// ConceptLevel returns the user's mastery of a concept, defaulting to
// their overall expertise when the concept has never been recorded.
func (p Profile) ConceptLevel(concept string) int {
	if lvl, ok := p.ConceptLevels[concept]; ok {
		return lvl
	}
	return p.ExpertiseLevel
}

func clampLevel(n int) int {
	if n < MinLevel {
		return MinLevel
	}
	if n > MaxLevel {
		return MaxLevel
	}
	return n
}
