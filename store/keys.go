package store

import (
	"fmt"
)

type KeyStruct struct{}

func NewKeyStruct() *KeyStruct {
	return &KeyStruct{}
}

// AttemptDraftKey returns the persistence key for a student's in-progress answers
func (r *KeyStruct) AttemptDraftKey(userID, examID string) string {
	return fmt.Sprintf("user:%s:exam:%s:draft", userID, examID)
}

// AttemptTimerKey returns the persistence key for a student's countdown snapshot
func (r *KeyStruct) AttemptTimerKey(userID, examID string) string {
	return fmt.Sprintf("user:%s:exam:%s:timer", userID, examID)
}

var Key = NewKeyStruct()
