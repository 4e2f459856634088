package model

// SubmittedAnswer pairs a question with its final answer on the wire.
type SubmittedAnswer struct {
	QuestionID string      `json:"qid"`
	Value      AnswerValue `json:"value"`
}

// Submission is the payload sent to the submission provider. Answers are
// ordered by the exam's question order so retries produce identical bodies.
type Submission struct {
	Answers     []SubmittedAnswer `json:"answers"`
	TabSwitches int64             `json:"tabSwitches"`
}

// SubmissionResult is the provider's grading summary. Score and Total are
// absent when the exam contains questions that need manual grading.
type SubmissionResult struct {
	Score  *float64 `json:"score,omitempty"`
	Total  *int     `json:"total,omitempty"`
	Status string   `json:"status"`
}
