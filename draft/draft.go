// Package draft persists in-progress answers so an interrupted attempt
// resumes without data loss. Every edit is written through immediately;
// edits are rare next to reads, so durability wins over write volume.
package draft

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/proctorly/examsession/model"
	"github.com/proctorly/examsession/store"
)

// payload is the persisted draft shape. Loads that do not carry an answers
// object are treated as no draft.
type payload struct {
	Answers map[string]model.AnswerValue `json:"answers"`
}

// Store reads and writes drafts scoped by (user, exam).
type Store struct {
	kv  store.KV
	log zerolog.Logger
}

// New creates a draft store over the given KV.
func New(kv store.KV, log zerolog.Logger) *Store {
	return &Store{
		kv:  kv,
		log: log.With().Str("component", "draft").Logger(),
	}
}

// Load returns the persisted answers for (userID, examID). Absent keys,
// storage failures, and shape-check failures all yield an empty map: an
// attempt must never fail to start because persistence did.
func (s *Store) Load(ctx context.Context, userID, examID string) map[string]model.AnswerValue {
	raw, err := s.kv.Get(ctx, store.Key.AttemptDraftKey(userID, examID))
	if err != nil {
		return map[string]model.AnswerValue{}
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Answers == nil {
		s.log.Warn().
			Str("user_id", userID).
			Str("exam_id", examID).
			Msg("Discarding malformed draft")
		return map[string]model.AnswerValue{}
	}

	return p.Answers
}

// Save writes the full answer set through to the KV. Failures are logged
// and swallowed; the in-memory answers remain authoritative.
func (s *Store) Save(ctx context.Context, userID, examID string, answers map[string]model.AnswerValue) {
	raw, err := json.Marshal(payload{Answers: answers})
	if err != nil {
		s.log.Error().Err(err).Msg("Draft encode failed")
		return
	}

	if err := s.kv.Set(ctx, store.Key.AttemptDraftKey(userID, examID), string(raw)); err != nil {
		s.log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("exam_id", examID).
			Msg("Draft save skipped")
	}
}

// Clear removes the persisted draft for (userID, examID).
func (s *Store) Clear(ctx context.Context, userID, examID string) {
	if err := s.kv.Remove(ctx, store.Key.AttemptDraftKey(userID, examID)); err != nil {
		s.log.Warn().Err(err).Msg("Draft clear skipped")
	}
}
