// Package provider implements the HTTP contracts of the exam portal's
// remote API: exam-content fetch and final submission. The engine treats
// both as external collaborators and never retries on its own.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorly/examsession/model"
	"github.com/proctorly/examsession/validator"
)

// Provider errors, per the engine's error taxonomy.
var (
	// ErrExamNotFound means the requested exam does not exist.
	ErrExamNotFound = errors.New("exam not found")
	// ErrLoadFailed means the exam-content fetch failed; the session cannot
	// become interactive and the user must retry entry.
	ErrLoadFailed = errors.New("failed to load exam")
	// ErrSubmissionFailed means the submission call failed; the attempt
	// stays active and a retry is safe.
	ErrSubmissionFailed = errors.New("submission failed")
)

const defaultDurationMin = 60

// Client calls the portal API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a portal API client. baseURL is the API root without a
// trailing slash.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "provider").Logger(),
	}
}

// examResponse is the content provider's wire shape. Legacy records carry
// Mongo-style _id fields, so both id spellings are accepted.
type examResponse struct {
	ID          string             `json:"id"`
	LegacyID    string             `json:"_id"`
	Title       string             `json:"title"`
	DurationMin int                `json:"durationMin" validate:"min=0,max=1440"`
	Questions   []questionResponse `json:"questions" validate:"dive"`
}

type questionResponse struct {
	ID       string   `json:"id"`
	LegacyID string   `json:"_id"`
	Type     string   `json:"type" validate:"required"`
	Q        string   `json:"q"`
	Prompt   string   `json:"prompt"`
	Opts     []string `json:"opts"`
}

// GetExam fetches and normalizes the exam definition.
func (c *Client) GetExam(ctx context.Context, examID string) (*model.ExamDefinition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/exams/"+examID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrExamNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrLoadFailed, resp.StatusCode)
	}

	var er examResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrLoadFailed, err)
	}

	if fields := validator.Struct(&er); fields != nil {
		c.log.Warn().Interface("fields", fields).Str("exam_id", examID).Msg("Exam payload failed validation")
		return nil, fmt.Errorf("%w: payload validation failed", ErrLoadFailed)
	}

	return normalizeExam(examID, &er)
}

// normalizeExam converts the wire shape into the engine's model: minutes to
// seconds, stable question ids, and the two supported question kinds.
func normalizeExam(examID string, er *examResponse) (*model.ExamDefinition, error) {
	durationMin := er.DurationMin
	if durationMin == 0 {
		durationMin = defaultDurationMin
	}

	def := &model.ExamDefinition{
		ID:          firstNonEmpty(er.ID, er.LegacyID, examID),
		Title:       er.Title,
		DurationSec: durationMin * 60,
		Questions:   make([]model.Question, 0, len(er.Questions)),
	}

	for i, q := range er.Questions {
		id := firstNonEmpty(q.ID, q.LegacyID)
		if id == "" {
			return nil, fmt.Errorf("%w: question %d has no id", ErrLoadFailed, i)
		}

		kind := model.QuestionOpen
		if q.Type == "mcq" || q.Type == "choice" {
			kind = model.QuestionChoice
		}

		def.Questions = append(def.Questions, model.Question{
			ID:      id,
			Kind:    kind,
			Prompt:  firstNonEmpty(q.Prompt, q.Q),
			Options: q.Opts,
		})
	}

	return def, nil
}

// Submit posts the final submission. It must be called at most once per
// logical submission; the session controller's status guard enforces that.
func (c *Client) Submit(ctx context.Context, examID string, sub model.Submission) (*model.SubmissionResult, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrSubmissionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submissions/"+examID, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrSubmissionFailed, resp.StatusCode)
	}

	var result model.SubmissionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSubmissionFailed, err)
	}

	return &result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
