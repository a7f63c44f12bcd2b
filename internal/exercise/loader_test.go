package exercise

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

const packYAML = `id: test
name: Test Pack
exercises:
  - add
  - negate
`

const addYAML = `id: add
order: 1
title: Add
difficulty: easy
category: Math
entry_point: add
starter: |
  function add(a, b) {
    // Write your code here
  };
fixture:
  cases:
    - args: [1, 2]
      expected: 3
    - args: [[1], {a: 1}]
      expected: {sum: [1]}
`

const negateYAML = `id: negate
order: 2
title: Negate
difficulty: Easy
entry_point: negate
starter: "function negate(x) {}"
fixture:
  compare: unordered
  cases:
    - args: [1]
      expected: -1
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"pack.yaml":   {Data: []byte(packYAML)},
		"add.yaml":    {Data: []byte(addYAML)},
		"negate.yaml": {Data: []byte(negateYAML)},
	}
}

func TestLoader_LoadAll(t *testing.T) {
	loader := NewFSLoader(testFS(), "test")

	entries, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("LoadAll() len = %d, want 2", len(entries))
	}

	add := entries[0]
	if add.Exercise.EntryPoint != "add" {
		t.Errorf("EntryPoint = %q, want add", add.Exercise.EntryPoint)
	}
	if got := add.Fixture.Cases[1].Args[1]; got == nil {
		t.Error("nested map arg lost")
	} else if _, ok := got.(map[string]any); !ok {
		t.Errorf("nested map arg type = %T, want map[string]any", got)
	}

	negate := entries[1]
	if negate.Exercise.Difficulty != "easy" {
		t.Errorf("Difficulty = %q, want easy", negate.Exercise.Difficulty)
	}
	if negate.Fixture.Mode != "unordered" {
		t.Errorf("Mode = %q, want unordered", negate.Fixture.Mode)
	}
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(fstest.MapFS)
		wantErr string
	}{
		{
			name:    "missing pack",
			mutate:  func(m fstest.MapFS) { delete(m, "pack.yaml") },
			wantErr: "read pack file",
		},
		{
			name: "duplicate order",
			mutate: func(m fstest.MapFS) {
				m["negate.yaml"].Data = []byte(strings.Replace(negateYAML, "order: 2", "order: 1", 1))
			},
			wantErr: "share order",
		},
		{
			name: "order out of range",
			mutate: func(m fstest.MapFS) {
				m["negate.yaml"].Data = []byte(strings.Replace(negateYAML, "order: 2", "order: 7", 1))
			},
			wantErr: "outside 1..2",
		},
		{
			name: "missing entry point",
			mutate: func(m fstest.MapFS) {
				m["negate.yaml"].Data = []byte(strings.Replace(negateYAML, "entry_point: negate", "", 1))
			},
			wantErr: "entry_point is required",
		},
		{
			name: "starter without entry point",
			mutate: func(m fstest.MapFS) {
				m["negate.yaml"].Data = []byte(strings.Replace(negateYAML, "function negate(x) {}", "function other() {}", 1))
			},
			wantErr: "does not define negate",
		},
		{
			name: "unknown difficulty",
			mutate: func(m fstest.MapFS) {
				m["negate.yaml"].Data = []byte(strings.Replace(negateYAML, "difficulty: Easy", "difficulty: brutal", 1))
			},
			wantErr: "unknown difficulty",
		},
		{
			name: "unknown compare",
			mutate: func(m fstest.MapFS) {
				m["negate.yaml"].Data = []byte(strings.Replace(negateYAML, "compare: unordered", "compare: fuzzy", 1))
			},
			wantErr: "unknown compare mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := testFS()
			tt.mutate(fsys)

			_, err := NewFSLoader(fsys, "test").LoadAll()
			if err == nil {
				t.Fatal("LoadAll() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadAll() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_RejectsTraversal(t *testing.T) {
	if _, err := NewFSLoader(testFS(), "test").LoadExercise("../secrets"); err == nil {
		t.Error("LoadExercise() expected error for traversal slug")
	}
}

func TestRegistry_ReloadKeepsSnapshotOnError(t *testing.T) {
	fsys := testFS()
	registry := NewRegistry(NewFSLoader(fsys, "test"))
	if err := registry.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	fsys["add.yaml"].Data = []byte("::: not yaml")
	if err := registry.Reload(); err == nil {
		t.Fatal("Reload() expected error")
	}

	if _, err := registry.GetExercise("add"); err != nil {
		t.Errorf("previous snapshot lost: %v", err)
	}
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	for name, f := range testFS() {
		if err := os.WriteFile(filepath.Join(dir, name), f.Data, 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	registry := NewRegistry(NewLoader(dir))
	if err := registry.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Watch(ctx, dir) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(addYAML, "title: Add", "title: Addition", 1)
	if err := os.WriteFile(filepath.Join(dir, "add.yaml"), []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite add.yaml: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ex, err := registry.GetExercise("add")
		if err == nil && ex.Title == "Addition" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("registry did not pick up catalog change")
}
