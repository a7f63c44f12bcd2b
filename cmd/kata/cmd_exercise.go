package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type exerciseSummary struct {
	ID         string `json:"id"`
	Order      int    `json:"order"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Category   string `json:"category"`
}

type exerciseDetail struct {
	exerciseSummary
	Description string `json:"description"`
	StarterCode string `json:"starter_code"`
	EntryPoint  string `json:"entry_point"`
	Examples    []struct {
		Input       string `json:"input"`
		Output      string `json:"output"`
		Explanation string `json:"explanation"`
	} `json:"examples"`
	Constraints []string `json:"constraints"`
	Counters    counters `json:"counters"`
	Facts       *facts   `json:"facts"`
}

type counters struct {
	Likes    uint64 `json:"likes"`
	Dislikes uint64 `json:"dislikes"`
}

type facts struct {
	Affinity string `json:"affinity"`
	Starred  bool   `json:"starred"`
	Solved   bool   `json:"solved"`
}

var (
	exerciseCmd = &cobra.Command{
		Use:     "exercise",
		Aliases: []string{"ex"},
		Short:   "Browse the exercise catalog",
	}

	exerciseListCmd = &cobra.Command{
		Use:   "list",
		Short: "List exercises in order",
		Args:  cobra.NoArgs,
		RunE:  runExerciseList,
	}

	exerciseShowCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Show an exercise with counters and your facts",
		Args:  cobra.ExactArgs(1),
		RunE:  runExerciseShow,
	}

	exerciseNextCmd = &cobra.Command{
		Use:   "next <id>",
		Short: "Show the exercise after id (wraps around)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNavigate(cmd, args[0], "next")
		},
	}

	exercisePrevCmd = &cobra.Command{
		Use:   "prev <id>",
		Short: "Show the exercise before id (wraps around)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNavigate(cmd, args[0], "prev")
		},
	}
)

func init() {
	exerciseCmd.AddCommand(exerciseListCmd, exerciseShowCmd, exerciseNextCmd, exercisePrevCmd)
}

func runExerciseList(cmd *cobra.Command, args []string) error {
	c := newClient()
	var result struct {
		Exercises []exerciseSummary `json:"exercises"`
	}
	if err := c.do(cmd.Context(), http.MethodGet, "/v1/exercises", nil, &result); err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd.OutOrStdout(), c.lastRaw)
	}

	out := cmd.OutOrStdout()
	for _, ex := range result.Exercises {
		fmt.Fprintf(out, "%3d. %-28s %-7s %s\n", ex.Order, ex.ID, ex.Difficulty, ex.Category)
	}
	fmt.Fprintln(out, "\nUse 'kata exercise show <id>' for details")
	return nil
}

func runExerciseShow(cmd *cobra.Command, args []string) error {
	c := newClient()
	var ex exerciseDetail
	if err := c.do(cmd.Context(), http.MethodGet, exercisePath(args[0], ""), nil, &ex); err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd.OutOrStdout(), c.lastRaw)
	}
	printExercise(cmd.OutOrStdout(), &ex)
	return nil
}

func runNavigate(cmd *cobra.Command, id, direction string) error {
	c := newClient()
	var ex exerciseSummary
	if err := c.do(cmd.Context(), http.MethodGet, exercisePath(id, direction), nil, &ex); err != nil {
		return err
	}
	if jsonOutput {
		return printRaw(cmd.OutOrStdout(), c.lastRaw)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (%s)\n", ex.Order, ex.ID, ex.Title)
	return nil
}

func printExercise(w io.Writer, ex *exerciseDetail) {
	fmt.Fprintf(w, "Exercise %d: %s\n\n", ex.Order, ex.Title)
	fmt.Fprintf(w, "ID:         %s\n", ex.ID)
	fmt.Fprintf(w, "Difficulty: %s\n", ex.Difficulty)
	fmt.Fprintf(w, "Category:   %s\n", ex.Category)
	fmt.Fprintf(w, "Function:   %s\n", ex.EntryPoint)
	fmt.Fprintf(w, "Likes:      %d  Dislikes: %d\n", ex.Counters.Likes, ex.Counters.Dislikes)
	if ex.Facts != nil {
		fmt.Fprintf(w, "You:        %s\n", describeFacts(*ex.Facts))
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(ex.Description))

	for i, e := range ex.Examples {
		fmt.Fprintf(w, "\nExample %d:\n  Input:  %s\n  Output: %s\n", i+1, e.Input, e.Output)
		if e.Explanation != "" {
			fmt.Fprintf(w, "  Explanation: %s\n", e.Explanation)
		}
	}
	if len(ex.Constraints) > 0 {
		fmt.Fprintln(w, "\nConstraints:")
		for _, c := range ex.Constraints {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
}

func describeFacts(f facts) string {
	parts := []string{f.Affinity}
	if f.Starred {
		parts = append(parts, "starred")
	}
	if f.Solved {
		parts = append(parts, "solved")
	}
	return strings.Join(parts, ", ")
}

// exercisePath builds /v1/exercises/{id}[/suffix] with id escaped
func exercisePath(id, suffix string) string {
	p := "/v1/exercises/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func printRaw(w io.Writer, raw []byte) error {
	_, err := w.Write(raw)
	return err
}

// readSource reads a file, or stdin for "-"
func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
