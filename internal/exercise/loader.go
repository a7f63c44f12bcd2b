package exercise

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/felixgeelhaar/kata/internal/domain"
	"gopkg.in/yaml.v3"
)

// PackFile represents the YAML structure for an exercise pack
type PackFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Exercises   []string `yaml:"exercises"`
}

// ExerciseFile represents the YAML structure for an exercise
type ExerciseFile struct {
	ID          string   `yaml:"id"`
	Order       int      `yaml:"order"`
	Title       string   `yaml:"title"`
	Difficulty  string   `yaml:"difficulty"`
	Category    string   `yaml:"category"`
	VideoID     string   `yaml:"video_id"`
	EntryPoint  string   `yaml:"entry_point"`
	Description string   `yaml:"description"`
	Constraints []string `yaml:"constraints"`
	Starter     string   `yaml:"starter"`
	Examples    []struct {
		Input       string `yaml:"input"`
		Output      string `yaml:"output"`
		Explanation string `yaml:"explanation"`
		ImageURL    string `yaml:"image_url"`
	} `yaml:"examples"`
	Fixture struct {
		Compare string `yaml:"compare"`
		Prelude string `yaml:"prelude"`
		Invoke  string `yaml:"invoke"`
		Check   string `yaml:"check"`
		Cases   []struct {
			Args     []any `yaml:"args"`
			Expected any   `yaml:"expected"`
		} `yaml:"cases"`
	} `yaml:"fixture"`
}

// Entry is a loaded exercise together with its hidden fixture
type Entry struct {
	Exercise *domain.Exercise
	Fixture  *domain.FixtureSpec
}

// Loader handles loading exercises from YAML files
type Loader struct {
	fsys   fs.FS
	source string
}

// NewLoader creates a loader reading from a directory on disk
func NewLoader(basePath string) *Loader {
	return &Loader{fsys: os.DirFS(basePath), source: basePath}
}

// NewEmbeddedLoader creates a loader for the built-in catalog
func NewEmbeddedLoader() *Loader {
	sub, err := fs.Sub(catalogFS, "catalog")
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return &Loader{fsys: sub, source: "embedded"}
}

// NewFSLoader creates a loader over an arbitrary filesystem
func NewFSLoader(fsys fs.FS, source string) *Loader {
	return &Loader{fsys: fsys, source: source}
}

// Source describes where exercises are loaded from
func (l *Loader) Source() string {
	return l.source
}

// LoadPack loads the pack manifest
func (l *Loader) LoadPack() (*PackFile, error) {
	data, err := fs.ReadFile(l.fsys, "pack.yaml")
	if err != nil {
		return nil, fmt.Errorf("read pack file: %w", err)
	}

	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse pack file: %w", err)
	}
	if len(pack.Exercises) == 0 {
		return nil, fmt.Errorf("pack %s lists no exercises", pack.ID)
	}
	return &pack, nil
}

// LoadExercise loads a single exercise from <slug>.yaml
func (l *Loader) LoadExercise(slug string) (*Entry, error) {
	if slug == "" || strings.Contains(slug, "..") {
		return nil, fmt.Errorf("invalid exercise slug: %q", slug)
	}

	data, err := fs.ReadFile(l.fsys, path.Clean(slug)+".yaml")
	if err != nil {
		return nil, fmt.Errorf("read exercise file: %w", err)
	}

	var exFile ExerciseFile
	if err := yaml.Unmarshal(data, &exFile); err != nil {
		return nil, fmt.Errorf("parse exercise file: %w", err)
	}

	if exFile.ID == "" {
		exFile.ID = slug
	}
	if exFile.ID != slug {
		return nil, fmt.Errorf("exercise %s: id %q does not match file name", slug, exFile.ID)
	}
	if exFile.EntryPoint == "" {
		return nil, fmt.Errorf("exercise %s: entry_point is required", slug)
	}
	if !strings.Contains(exFile.Starter, exFile.EntryPoint) {
		return nil, fmt.Errorf("exercise %s: starter code does not define %s", slug, exFile.EntryPoint)
	}
	if len(exFile.Fixture.Cases) == 0 {
		return nil, fmt.Errorf("exercise %s: fixture has no cases", slug)
	}

	difficulty := domain.Difficulty(strings.ToLower(exFile.Difficulty))
	if !difficulty.Valid() {
		return nil, fmt.Errorf("exercise %s: unknown difficulty %q", slug, exFile.Difficulty)
	}

	mode := domain.CompareMode(exFile.Fixture.Compare)
	switch mode {
	case "":
		mode = domain.CompareExact
	case domain.CompareExact, domain.CompareUnordered:
	default:
		return nil, fmt.Errorf("exercise %s: unknown compare mode %q", slug, exFile.Fixture.Compare)
	}

	ex := &domain.Exercise{
		ID:          exFile.ID,
		Order:       exFile.Order,
		Title:       exFile.Title,
		Difficulty:  difficulty,
		Category:    exFile.Category,
		Description: strings.TrimSpace(exFile.Description),
		StarterCode: exFile.Starter,
		EntryPoint:  exFile.EntryPoint,
		Constraints: exFile.Constraints,
		VideoID:     exFile.VideoID,
	}
	for _, e := range exFile.Examples {
		ex.Examples = append(ex.Examples, domain.Example{
			Input:       e.Input,
			Output:      e.Output,
			Explanation: e.Explanation,
			ImageURL:    e.ImageURL,
		})
	}

	fixture := &domain.FixtureSpec{
		ExerciseID: ex.ID,
		EntryPoint: ex.EntryPoint,
		Prelude:    exFile.Fixture.Prelude,
		Invoke:     strings.TrimSpace(exFile.Fixture.Invoke),
		Compare:    strings.TrimSpace(exFile.Fixture.Check),
		Mode:       mode,
	}
	for _, c := range exFile.Fixture.Cases {
		fixture.Cases = append(fixture.Cases, domain.FixtureCase{
			Args:     normalizeValue(c.Args).([]any),
			Expected: normalizeValue(c.Expected),
		})
	}

	return &Entry{Exercise: ex, Fixture: fixture}, nil
}

// LoadAll loads every exercise listed in the pack and checks that orders
// cover 1..N exactly once.
func (l *Loader) LoadAll() ([]*Entry, error) {
	pack, err := l.LoadPack()
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(pack.Exercises))
	seen := make(map[int]string, len(pack.Exercises))
	for _, slug := range pack.Exercises {
		entry, err := l.LoadExercise(slug)
		if err != nil {
			return nil, fmt.Errorf("load exercise %s: %w", slug, err)
		}

		order := entry.Exercise.Order
		if order < 1 || order > len(pack.Exercises) {
			return nil, fmt.Errorf("exercise %s: order %d outside 1..%d", slug, order, len(pack.Exercises))
		}
		if other, dup := seen[order]; dup {
			return nil, fmt.Errorf("exercises %s and %s share order %d", other, slug, order)
		}
		seen[order] = slug
		entries = append(entries, entry)
	}

	return entries, nil
}

// normalizeValue converts YAML-decoded values into JSON-encodable ones
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
