package runner

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/kata/internal/domain"
)

func testFixture() *domain.FixtureSpec {
	return &domain.FixtureSpec{
		ExerciseID: "two-sum",
		EntryPoint: "twoSum",
		Cases: []domain.FixtureCase{
			{Args: []any{[]any{2, 7, 11, 15}, 9}, Expected: []any{0, 1}},
			{Args: nil, Expected: true},
		},
	}
}

func TestBuildProgram(t *testing.T) {
	prog, err := BuildProgram(testFixture(), "function twoSum() {}", 3*time.Second)
	if err != nil {
		t.Fatalf("BuildProgram() error = %v", err)
	}

	if prog.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", prog.Timeout)
	}
	if !strings.Contains(prog.Files[HarnessFile], reportMarker) {
		t.Error("harness does not contain the report marker")
	}

	var p payload
	if err := json.Unmarshal([]byte(prog.Files[PayloadFile]), &p); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if p.EntryPoint != "twoSum" {
		t.Errorf("EntryPoint = %q, want twoSum", p.EntryPoint)
	}
	if p.Mode != "exact" {
		t.Errorf("Mode = %q, want exact", p.Mode)
	}
	if p.TimeoutMS != 3000 {
		t.Errorf("TimeoutMS = %d, want 3000", p.TimeoutMS)
	}
	if len(p.Cases) != 2 {
		t.Fatalf("len(Cases) = %d, want 2", len(p.Cases))
	}
	if p.Cases[1].Args == nil {
		t.Error("nil args should be sent as an empty array")
	}
}

func TestBuildProgram_RejectsZeroBudget(t *testing.T) {
	if _, err := BuildProgram(testFixture(), "function twoSum() {}", 0); err == nil {
		t.Error("expected error for zero budget")
	}
}

func TestParseReport(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantOK     bool
		wantStatus string
	}{
		{
			name:       "single report",
			stdout:     "\n" + reportMarker + `{"status":"pass","logs":[]}` + "\n",
			wantOK:     true,
			wantStatus: "pass",
		},
		{
			name:       "last report wins",
			stdout:     reportMarker + `{"status":"pass"}` + "\n" + reportMarker + `{"status":"fail"}` + "\n",
			wantOK:     true,
			wantStatus: "fail",
		},
		{
			name:       "marker logged by the solution",
			stdout:     "\n" + reportMarker + `{"status":"fail","case_index":0,"logs":["` + reportMarker + `"]}` + "\n",
			wantOK:     true,
			wantStatus: "fail",
		},
		{
			name:       "marker mid-line is not a report",
			stdout:     reportMarker + `{"status":"fail"}` + "\nnoise " + reportMarker + `{"status":"pass"}` + "\n",
			wantOK:     true,
			wantStatus: "fail",
		},
		{
			name:       "crlf line endings",
			stdout:     reportMarker + `{"status":"pass"}` + "\r\n",
			wantOK:     true,
			wantStatus: "pass",
		},
		{
			name:   "no marker",
			stdout: "hello world\n",
		},
		{
			name:   "truncated json",
			stdout: reportMarker + `{"status":`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := parseReport(tc.stdout)
			if ok != tc.wantOK {
				t.Fatalf("parseReport() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && r.Status != tc.wantStatus {
				t.Errorf("Status = %q, want %q", r.Status, tc.wantStatus)
			}
		})
	}
}

func TestReport_Verdict(t *testing.T) {
	budget := 2 * time.Second

	tests := []struct {
		name     string
		report   report
		wantKind domain.VerdictKind
	}{
		{"pass", report{Status: "pass"}, domain.VerdictPass},
		{"fail", report{Status: "fail", CaseIndex: 1, Input: "[1]", Expected: "2", Actual: "3"}, domain.VerdictFail},
		{"timeout", report{Status: "timeout"}, domain.VerdictTimeout},
		{"compile error", report{Status: "compile_error", Message: "SyntaxError: x"}, domain.VerdictRuntimeError},
		{"thrown error", report{Status: "error", Message: "TypeError: y"}, domain.VerdictRuntimeError},
		{"unknown status", report{Status: "weird"}, domain.VerdictRuntimeError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := tc.report.verdict(budget)
			if v.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", v.Kind, tc.wantKind)
			}
		})
	}
}

func TestReport_VerdictMismatch(t *testing.T) {
	r := report{Status: "fail", CaseIndex: 2, Input: "[[3,3],6]", Expected: "[0,1]", Actual: "null", Logs: []string{"dbg"}}
	v := r.verdict(time.Second)

	if v.Mismatch == nil {
		t.Fatal("expected mismatch detail")
	}
	if v.Mismatch.CaseIndex != 2 || v.Mismatch.Expected != "[0,1]" || v.Mismatch.Actual != "null" {
		t.Errorf("Mismatch = %+v", v.Mismatch)
	}
	if len(v.Logs) != 1 || v.Logs[0] != "dbg" {
		t.Errorf("Logs = %v, want [dbg]", v.Logs)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		out         Output
		wantKind    domain.VerdictKind
		wantMessage string
	}{
		{
			name:     "timed out",
			out:      Output{TimedOut: true},
			wantKind: domain.VerdictTimeout,
		},
		{
			name:     "report present",
			out:      Output{Stdout: reportMarker + `{"status":"pass"}`},
			wantKind: domain.VerdictPass,
		},
		{
			name:        "out of memory",
			out:         Output{Stderr: "FATAL ERROR: Reached heap limit Allocation failed - JavaScript heap out of memory", ExitCode: 134},
			wantKind:    domain.VerdictRuntimeError,
			wantMessage: "memory limit exceeded",
		},
		{
			name:        "crash with stderr",
			out:         Output{Stderr: "line one\nError: boom\n\n", ExitCode: 1},
			wantKind:    domain.VerdictRuntimeError,
			wantMessage: "Error: boom",
		},
		{
			name:        "silent exit",
			out:         Output{ExitCode: 3},
			wantKind:    domain.VerdictRuntimeError,
			wantMessage: "process exited with code 3 without a result",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.out.Duration = 42 * time.Millisecond
			v := classify(&tc.out, time.Second)
			if v.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", v.Kind, tc.wantKind)
			}
			if tc.wantMessage != "" && v.Message != tc.wantMessage {
				t.Errorf("Message = %q, want %q", v.Message, tc.wantMessage)
			}
			if v.Duration != 42*time.Millisecond {
				t.Errorf("Duration = %v, want 42ms", v.Duration)
			}
		})
	}
}
