package domain

import (
	"slices"
	"testing"
)

func TestUserDocument_Facts(t *testing.T) {
	doc := &UserDocument{
		ID:       "u1",
		Liked:    []string{"two-sum"},
		Disliked: []string{"jump-game"},
		Starred:  []string{"two-sum", "valid-parentheses"},
		Solved:   []string{"jump-game"},
	}

	tests := []struct {
		exercise string
		want     Facts
	}{
		{"two-sum", Facts{Affinity: AffinityLiked, Starred: true}},
		{"jump-game", Facts{Affinity: AffinityDisliked, Solved: true}},
		{"valid-parentheses", Facts{Starred: true}},
		{"unknown", Facts{}},
	}

	for _, tt := range tests {
		t.Run(tt.exercise, func(t *testing.T) {
			if got := doc.Facts(tt.exercise); got != tt.want {
				t.Errorf("Facts(%q) = %+v, want %+v", tt.exercise, got, tt.want)
			}
		})
	}
}

func TestUserDocument_SetFacts_ExclusiveAffinity(t *testing.T) {
	doc := NewUserDocument("u1")

	doc.SetFacts("two-sum", Facts{Affinity: AffinityLiked})
	doc.SetFacts("two-sum", Facts{Affinity: AffinityDisliked})

	if slices.Contains(doc.Liked, "two-sum") {
		t.Error("two-sum still in liked set after switching to disliked")
	}
	if !slices.Contains(doc.Disliked, "two-sum") {
		t.Error("two-sum missing from disliked set")
	}

	doc.SetFacts("two-sum", Facts{})
	if len(doc.Liked) != 0 || len(doc.Disliked) != 0 {
		t.Errorf("sets not cleared: liked=%v disliked=%v", doc.Liked, doc.Disliked)
	}
}

func TestUserDocument_SetFacts_Idempotent(t *testing.T) {
	doc := NewUserDocument("u1")
	f := Facts{Affinity: AffinityLiked, Starred: true, Solved: true}

	doc.SetFacts("two-sum", f)
	doc.SetFacts("two-sum", f)

	if len(doc.Liked) != 1 || len(doc.Starred) != 1 || len(doc.Solved) != 1 {
		t.Errorf("duplicate membership: %+v", doc)
	}
}

func TestUserDocument_Clone(t *testing.T) {
	doc := &UserDocument{ID: "u1", Liked: []string{"a"}, Version: 3}
	c := doc.Clone()
	c.Liked[0] = "b"

	if doc.Liked[0] != "a" {
		t.Error("Clone shares backing array with original")
	}
	if c.Version != 3 {
		t.Errorf("Clone version = %d, want 3", c.Version)
	}
}
