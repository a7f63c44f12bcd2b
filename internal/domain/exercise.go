package domain

// Exercise represents one coding problem in the catalog
type Exercise struct {
	ID          string // slug: "two-sum"
	Order       int    // 1..N, navigation is cyclic over this range
	Title       string
	Difficulty  Difficulty
	Category    string
	Description string
	StarterCode string
	EntryPoint  string // function name the submission must define
	Examples    []Example
	Constraints []string
	VideoID     string
}

// Difficulty represents exercise difficulty level
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Example is a worked input/output pair shown with the problem statement
type Example struct {
	Input       string
	Output      string
	Explanation string
	ImageURL    string
}

// CompareMode controls how the harness compares actual and expected values
type CompareMode string

const (
	// CompareExact compares canonical JSON encodings
	CompareExact CompareMode = "exact"
	// CompareUnordered sorts top-level arrays before comparing
	CompareUnordered CompareMode = "unordered"
)

// FixtureCase is one hidden input/expected-output check
type FixtureCase struct {
	Args     []any
	Expected any
}

// FixtureSpec bundles the entry point a submission must expose with the
// verification routine run against it.
//
// Prelude is JavaScript evaluated in the sandbox before the cases run.
// Invoke and Compare are optional JavaScript expressions: Invoke receives
// (fn, args) and must return the value to check, Compare receives
// (actual, expected) and returns a boolean.
type FixtureSpec struct {
	ExerciseID string
	EntryPoint string
	Cases      []FixtureCase
	Prelude    string
	Invoke     string
	Compare    string
	Mode       CompareMode
}
