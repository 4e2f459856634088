package model

// QuestionKind enumerates the supported question formats.
type QuestionKind string

const (
	QuestionChoice QuestionKind = "choice"
	QuestionOpen   QuestionKind = "open"
)

// Question is a single normalized exam question. Option indices are the
// values submitted for choice questions.
type Question struct {
	ID      string       `json:"id"`
	Kind    QuestionKind `json:"kind"`
	Prompt  string       `json:"prompt"`
	Options []string     `json:"options,omitempty"`
}

// ExamDefinition is the normalized exam content fetched from the content
// provider. DurationSec is fixed at session creation and never changes.
type ExamDefinition struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	DurationSec int        `json:"duration_sec"`
	Questions   []Question `json:"questions"`
}

// QuestionByID returns the question with the given id, or nil.
func (e *ExamDefinition) QuestionByID(id string) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}
