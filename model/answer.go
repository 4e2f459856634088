package model

import (
	"encoding/json"
	"fmt"
)

// AnswerKind discriminates the two answer payload shapes.
type AnswerKind int

const (
	// AnswerChoice is a selected option index for a choice question.
	AnswerChoice AnswerKind = iota
	// AnswerText is free text for an open question.
	AnswerText
)

// AnswerValue holds a student's answer to a single question. On the wire it
// is either a bare JSON number (option index) or a JSON string (free text),
// matching the portal's submission contract.
type AnswerValue struct {
	Kind   AnswerKind
	Choice int
	Text   string
}

// ChoiceAnswer builds an option-index answer.
func ChoiceAnswer(index int) AnswerValue {
	return AnswerValue{Kind: AnswerChoice, Choice: index}
}

// TextAnswer builds a free-text answer.
func TextAnswer(text string) AnswerValue {
	return AnswerValue{Kind: AnswerText, Text: text}
}

// MarshalJSON emits a bare number for choice answers and a string for text
// answers.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.Kind == AnswerChoice {
		return json.Marshal(v.Choice)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON sniffs the payload shape: numbers become choice answers,
// strings become text answers. Anything else is rejected so a corrupted
// draft fails the shape check instead of silently loading garbage.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*v = TextAnswer(text)
		return nil
	}

	var index int
	if err := json.Unmarshal(data, &index); err == nil {
		*v = ChoiceAnswer(index)
		return nil
	}

	return fmt.Errorf("answer value must be a number or a string, got %s", data)
}
