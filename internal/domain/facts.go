package domain

import (
	"fmt"
	"strings"
)

// Affinity is a user's like/dislike relationship to one exercise.
// Liked and Disliked are mutually exclusive by construction.
type Affinity int

const (
	AffinityNone Affinity = iota
	AffinityLiked
	AffinityDisliked
)

func (a Affinity) String() string {
	switch a {
	case AffinityLiked:
		return "liked"
	case AffinityDisliked:
		return "disliked"
	default:
		return "none"
	}
}

// MarshalText encodes the affinity as its name
func (a Affinity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an affinity name
func (a *Affinity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "liked":
		*a = AffinityLiked
	case "disliked":
		*a = AffinityDisliked
	case "none", "":
		*a = AffinityNone
	default:
		return fmt.Errorf("%w: unknown affinity %q", ErrValidation, text)
	}
	return nil
}

// Facts are the per (user, exercise) interaction facts
type Facts struct {
	Affinity Affinity `json:"affinity"`
	Starred  bool     `json:"starred"`
	Solved   bool     `json:"solved"`
}

// Counters are the per-exercise aggregate like/dislike totals
type Counters struct {
	Likes    uint64 `json:"likes"`
	Dislikes uint64 `json:"dislikes"`
}

// Intent is a user action applied by the reconciler
type Intent string

const (
	IntentLike    Intent = "like"
	IntentDislike Intent = "dislike"
	IntentStar    Intent = "star"
	IntentSolve   Intent = "solve"
)

// Intents lists all intents in a stable order
func Intents() []Intent {
	return []Intent{IntentLike, IntentDislike, IntentStar, IntentSolve}
}

// ParseIntent parses a case-insensitive intent name
func ParseIntent(s string) (Intent, error) {
	in := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Intents() {
		if in == known {
			return in, nil
		}
	}
	return "", fmt.Errorf("%w: unknown intent %q", ErrValidation, s)
}
