package runner_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/runner"
)

func TestExtractEntryPoint(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		entry      string
		wantPrefix string
		wantErr    bool
	}{
		{
			name:       "plain declaration",
			source:     "function twoSum(nums, target) { return [0, 1]; }",
			entry:      "twoSum",
			wantPrefix: "function twoSum(",
		},
		{
			name:       "boilerplate before the function is dropped",
			source:     "// my notes\nconst x = 1;\nfunction twoSum(nums) {}",
			entry:      "twoSum",
			wantPrefix: "function twoSum(",
		},
		{
			name:       "helper after the entry point is kept",
			source:     "function canJump(n) { return helper(n); }\nfunction helper() { return true; }",
			entry:      "canJump",
			wantPrefix: "function canJump(",
		},
		{
			name:       "arrow function binding",
			source:     "const isValid = (s) => s.length % 2 === 0;",
			entry:      "isValid",
			wantPrefix: "const isValid =",
		},
		{
			name:       "declaration wins over binding",
			source:     "var twoSum = null;\nfunction twoSum() {}",
			entry:      "twoSum",
			wantPrefix: "function twoSum(",
		},
		{
			name:    "longer name is not a match",
			source:  "function twoSumHelper() {}",
			entry:   "twoSum",
			wantErr: true,
		},
		{
			name:    "missing entry point",
			source:  "function other() {}",
			entry:   "twoSum",
			wantErr: true,
		},
		{
			name:    "empty source",
			source:  "   \n",
			entry:   "twoSum",
			wantErr: true,
		},
		{
			name:    "invalid entry name",
			source:  "function a() {}",
			entry:   "a(); process.exit",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := runner.ExtractEntryPoint(tc.source, tc.entry)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("ExtractEntryPoint() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractEntryPoint() error = %v", err)
			}
			if !strings.HasPrefix(got, tc.wantPrefix) {
				t.Errorf("ExtractEntryPoint() = %q, want prefix %q", got, tc.wantPrefix)
			}
		})
	}
}

func TestExtractEntryPoint_MissingMessage(t *testing.T) {
	_, err := runner.ExtractEntryPoint("let y = 2;", "search2DMatrix")
	if err == nil || !strings.Contains(err.Error(), "search2DMatrix is not defined") {
		t.Errorf("error = %v, want mention of search2DMatrix", err)
	}
}
