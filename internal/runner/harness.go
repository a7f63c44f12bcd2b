package runner

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/kata/internal/domain"
)

//go:embed harness.js
var harnessJS string

// Harness file names inside the sandbox working directory
const (
	HarnessFile = "harness.js"
	PayloadFile = "payload.json"
)

// reportMarker prefixes the single JSON report line written by the harness
const reportMarker = "@@KATA_REPORT@@"

type payloadCase struct {
	Args     []any `json:"args"`
	Expected any   `json:"expected"`
}

type payload struct {
	EntryPoint string        `json:"entry_point"`
	Code       string        `json:"code"`
	Prelude    string        `json:"prelude,omitempty"`
	Invoke     string        `json:"invoke,omitempty"`
	Compare    string        `json:"compare,omitempty"`
	Mode       string        `json:"mode"`
	TimeoutMS  int64         `json:"timeout_ms"`
	Cases      []payloadCase `json:"cases"`
}

// Program is a self-contained evaluation job handed to an Executor
type Program struct {
	Files   map[string]string
	Timeout time.Duration // in-sandbox budget
}

// BuildProgram packages the extracted code and fixture into the harness
// files. budget bounds each scripted step inside the sandbox.
func BuildProgram(fixture *domain.FixtureSpec, code string, budget time.Duration) (*Program, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive, got %s", budget)
	}

	p := payload{
		EntryPoint: fixture.EntryPoint,
		Code:       code,
		Prelude:    fixture.Prelude,
		Invoke:     fixture.Invoke,
		Compare:    fixture.Compare,
		Mode:       string(fixture.Mode),
		TimeoutMS:  budget.Milliseconds(),
		Cases:      make([]payloadCase, len(fixture.Cases)),
	}
	if p.Mode == "" {
		p.Mode = string(domain.CompareExact)
	}
	for i, c := range fixture.Cases {
		args := c.Args
		if args == nil {
			args = []any{}
		}
		p.Cases[i] = payloadCase{Args: args, Expected: c.Expected}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return &Program{
		Files: map[string]string{
			HarnessFile: harnessJS,
			PayloadFile: string(data),
		},
		Timeout: budget,
	}, nil
}

// report mirrors the JSON line emitted by harness.js
type report struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	CaseIndex int      `json:"case_index"`
	Input     string   `json:"input"`
	Expected  string   `json:"expected"`
	Actual    string   `json:"actual"`
	Logs      []string `json:"logs"`
}

// parseReport reads the last line of stdout that starts with the report
// marker. The marker can also appear inside a report's escaped logs, so
// only line starts count.
func parseReport(stdout string) (*report, bool) {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		body, ok := strings.CutPrefix(strings.TrimRight(lines[i], "\r"), reportMarker)
		if !ok {
			continue
		}
		var r report
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, false
		}
		return &r, true
	}
	return nil, false
}

// verdict classifies a harness report
func (r *report) verdict(budget time.Duration) domain.Verdict {
	var v domain.Verdict
	switch r.Status {
	case "pass":
		v = domain.PassVerdict()
	case "fail":
		v = domain.FailVerdict(domain.Mismatch{
			CaseIndex: r.CaseIndex,
			Input:     r.Input,
			Expected:  r.Expected,
			Actual:    r.Actual,
		})
	case "timeout":
		v = domain.TimeoutVerdict(budget)
	case "compile_error", "error":
		v = domain.RuntimeErrorVerdict(r.Message)
	default:
		v = domain.RuntimeErrorVerdict(fmt.Sprintf("unrecognised harness status %q", r.Status))
	}
	v.Logs = r.Logs
	return v
}
