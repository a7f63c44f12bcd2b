// Package interaction reconciles per-user exercise facts with the
// per-exercise like/dislike counters.
package interaction

import (
	"fmt"

	"github.com/felixgeelhaar/kata/internal/domain"
)

// Apply computes the state that results from one intent. It is a pure
// function: the same snapshot and intent always produce the same result.
//
// Like and Dislike move the affinity machine and adjust the counters;
// re-invoking the current affinity clears it. Star and Solve toggle
// their flag and never touch the counters. Decrements stop at zero.
func Apply(intent domain.Intent, f domain.Facts, c domain.Counters) (domain.Facts, domain.Counters, error) {
	switch intent {
	case domain.IntentLike:
		switch f.Affinity {
		case domain.AffinityLiked:
			f.Affinity = domain.AffinityNone
			c.Likes = dec(c.Likes)
		case domain.AffinityDisliked:
			f.Affinity = domain.AffinityLiked
			c.Likes++
			c.Dislikes = dec(c.Dislikes)
		default:
			f.Affinity = domain.AffinityLiked
			c.Likes++
		}
	case domain.IntentDislike:
		switch f.Affinity {
		case domain.AffinityDisliked:
			f.Affinity = domain.AffinityNone
			c.Dislikes = dec(c.Dislikes)
		case domain.AffinityLiked:
			f.Affinity = domain.AffinityDisliked
			c.Dislikes++
			c.Likes = dec(c.Likes)
		default:
			f.Affinity = domain.AffinityDisliked
			c.Dislikes++
		}
	case domain.IntentStar:
		f.Starred = !f.Starred
	case domain.IntentSolve:
		f.Solved = !f.Solved
	default:
		return f, c, fmt.Errorf("%w: unknown intent %q", domain.ErrValidation, intent)
	}
	return f, c, nil
}

func dec(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return n - 1
}
