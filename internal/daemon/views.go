package daemon

import (
	"github.com/felixgeelhaar/kata/internal/domain"
	"github.com/felixgeelhaar/kata/internal/submission"
)

type exerciseSummary struct {
	ID         string `json:"id"`
	Order      int    `json:"order"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Category   string `json:"category"`
}

type exampleView struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type exerciseView struct {
	exerciseSummary
	Description string          `json:"description"`
	StarterCode string          `json:"starter_code"`
	EntryPoint  string          `json:"entry_point"`
	Examples    []exampleView   `json:"examples"`
	Constraints []string        `json:"constraints"`
	VideoID     string          `json:"video_id,omitempty"`
	Counters    domain.Counters `json:"counters"`
	Facts       *domain.Facts   `json:"facts,omitempty"`
}

type draftResponse struct {
	ExerciseID string `json:"exercise_id"`
	Code       string `json:"code"`
}

type putDraftRequest struct {
	Code *string `json:"code" validate:"required"`
}

type submitRequest struct {
	Source string `json:"source"`
}

type submitResponse struct {
	submission.Result
	Summary string `json:"summary"`
}

func summarize(ex *domain.Exercise) exerciseSummary {
	return exerciseSummary{
		ID:         ex.ID,
		Order:      ex.Order,
		Title:      ex.Title,
		Difficulty: string(ex.Difficulty),
		Category:   ex.Category,
	}
}

func detail(ex *domain.Exercise) exerciseView {
	examples := make([]exampleView, 0, len(ex.Examples))
	for _, e := range ex.Examples {
		examples = append(examples, exampleView(e))
	}
	constraints := ex.Constraints
	if constraints == nil {
		constraints = []string{}
	}
	return exerciseView{
		exerciseSummary: summarize(ex),
		Description:     ex.Description,
		StarterCode:     ex.StarterCode,
		EntryPoint:      ex.EntryPoint,
		Examples:        examples,
		Constraints:     constraints,
		VideoID:         ex.VideoID,
	}
}
