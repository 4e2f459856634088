// Package session owns the attempt lifecycle: it composes the countdown,
// the draft store, and the integrity monitor, and executes the submission
// protocol exactly once per attempt no matter which trigger fires first.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorly/examsession/clock"
	"github.com/proctorly/examsession/draft"
	"github.com/proctorly/examsession/identity"
	"github.com/proctorly/examsession/integrity"
	"github.com/proctorly/examsession/model"
	"github.com/proctorly/examsession/store"
)

// Status is the attempt lifecycle state. Transitions are forward-only,
// except SUBMITTING reverting to ACTIVE when the submission call fails.
type Status string

const (
	StatusLoading    Status = "LOADING"
	StatusActive     Status = "ACTIVE"
	StatusSubmitting Status = "SUBMITTING"
	StatusSubmitted  Status = "SUBMITTED"
)

// Internal status codes for atomic compare-and-set.
const (
	stLoading int32 = iota
	stActive
	stSubmitting
	stSubmitted
)

var (
	// ErrNotActive is returned by operations that require an ACTIVE
	// attempt, including a Submit that lost the race to another trigger.
	ErrNotActive = errors.New("attempt is not active")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("attempt already initialized")
)

const (
	// DefaultViolationLimit is the number of recorded violations tolerated
	// before the next one forces submission.
	DefaultViolationLimit = 5
	// DefaultSubmitTimeout bounds the submission network call so a hung
	// provider cannot pin the attempt in SUBMITTING forever.
	DefaultSubmitTimeout = 15 * time.Second
)

// ExamProvider fetches exam content.
type ExamProvider interface {
	GetExam(ctx context.Context, examID string) (*model.ExamDefinition, error)
}

// SubmissionProvider delivers the final submission.
type SubmissionProvider interface {
	Submit(ctx context.Context, examID string, sub model.Submission) (*model.SubmissionResult, error)
}

// Fullscreen requests exclusive presentation from the host environment.
// Denial is advisory, never a session failure.
type Fullscreen interface {
	Request() error
}

// Options wires a Controller's collaborators.
type Options struct {
	User        *identity.Session
	ExamID      string
	Exams       ExamProvider
	Submissions SubmissionProvider
	Drafts      *draft.Store
	// TimerStore persists countdown snapshots, keyed per (user, exam)
	// alongside the draft.
	TimerStore store.KV
	Monitor    *integrity.Monitor
	Fullscreen Fullscreen

	// ViolationLimit overrides DefaultViolationLimit when positive.
	ViolationLimit int
	// SubmitTimeout overrides DefaultSubmitTimeout when positive.
	SubmitTimeout time.Duration
	// TickInterval overrides the countdown poll interval when positive.
	TickInterval time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Controller is the attempt state machine. One Controller governs one
// (user, exam) attempt from entry to submission.
type Controller struct {
	opts Options
	log  zerolog.Logger

	status      atomic.Int32
	tabSwitches atomic.Int64

	mu        sync.Mutex
	exam      *model.ExamDefinition
	answers   map[string]model.AnswerValue
	result    *model.SubmissionResult
	fsBlocked bool

	countdown *clock.Countdown
	sub       *integrity.Subscription
}

// New creates a Controller in LOADING state.
func New(opts Options) *Controller {
	if opts.ViolationLimit <= 0 {
		opts.ViolationLimit = DefaultViolationLimit
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}

	c := &Controller{
		opts: opts,
		log: opts.Logger.With().
			Str("component", "session").
			Str("user_id", opts.User.UserID).
			Str("exam_id", opts.ExamID).
			Logger(),
		answers: map[string]model.AnswerValue{},
	}
	c.status.Store(stLoading)
	return c
}

// Initialize fetches the exam definition, restores the persisted draft,
// starts the countdown, and attaches the integrity monitor. On provider
// failure the attempt stays in LOADING and the error is surfaced; retrying
// entry is the caller's decision.
func (c *Controller) Initialize(ctx context.Context, signals <-chan integrity.Signal) error {
	if c.status.Load() != stLoading {
		return ErrAlreadyInitialized
	}

	exam, err := c.opts.Exams.GetExam(ctx, c.opts.ExamID)
	if err != nil {
		c.log.Error().Err(err).Msg("Exam load failed")
		return err
	}

	c.mu.Lock()
	c.exam = exam
	if c.opts.Drafts != nil {
		c.answers = c.opts.Drafts.Load(ctx, c.opts.User.UserID, c.opts.ExamID)
	}
	restored := len(c.answers)
	c.mu.Unlock()

	c.status.Store(stActive)

	c.countdown = clock.Start(ctx, clock.Options{
		DurationSec: exam.DurationSec,
		RestoreKey:  c.timerKey(),
		Store:       c.opts.TimerStore,
		Interval:    c.opts.TickInterval,
		Now:         c.opts.Now,
		Logger:      c.opts.Logger,
	})

	if c.opts.Monitor != nil && signals != nil {
		c.sub = c.opts.Monitor.Attach(ctx, c.opts.ExamID, signals, c.onViolation)
	}

	go c.watchExpiry(ctx)

	if c.opts.Fullscreen != nil {
		if err := c.opts.Fullscreen.Request(); err != nil {
			// Advisory only: surface a manual affordance, keep going.
			c.mu.Lock()
			c.fsBlocked = true
			c.mu.Unlock()
			c.log.Debug().Err(err).Msg("Automatic fullscreen blocked")
		}
	}

	c.log.Info().
		Int("duration_sec", exam.DurationSec).
		Int("restored_answers", restored).
		Msg("Attempt active")

	return nil
}

// RecordAnswer overwrites the answer for questionID and writes it through
// to the draft store. Valid only while the attempt is ACTIVE.
//
// The status check and the write-through happen under the same lock the
// submission path takes to package answers: a submission that wins the
// status race waits for any in-flight save before it reads the answers
// and tears the draft down, so an accepted answer is always submitted and
// a cleared draft stays cleared.
func (c *Controller) RecordAnswer(ctx context.Context, questionID string, value model.AnswerValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Load() != stActive {
		return ErrNotActive
	}

	if c.exam != nil && c.exam.QuestionByID(questionID) == nil {
		c.log.Warn().Str("question_id", questionID).Msg("Answer recorded for unknown question")
	}

	c.answers[questionID] = value

	if c.opts.Drafts != nil {
		c.opts.Drafts.Save(ctx, c.opts.User.UserID, c.opts.ExamID, copyAnswers(c.answers))
	}
	return nil
}

// onViolation runs on the monitor's goroutine for every counted violation.
func (c *Controller) onViolation(total int64) {
	c.tabSwitches.Store(total)

	if total > int64(c.opts.ViolationLimit) && c.status.Load() == stActive {
		c.log.Warn().Int64("violations", total).Msg("Violation threshold exceeded")
		go c.forceSubmit("violation_threshold")
	}
}

// watchExpiry forces submission when the countdown reaches zero.
func (c *Controller) watchExpiry(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.countdown.Expired():
		if c.status.Load() == stActive {
			c.log.Info().Msg("Time expired")
			c.forceSubmit("timer_expired")
		}
	}
}

func (c *Controller) forceSubmit(reason string) {
	if _, err := c.Submit(context.Background(), false); err != nil {
		if errors.Is(err, ErrNotActive) {
			return // Another trigger already submitted.
		}
		c.log.Error().Err(err).Str("reason", reason).Msg("Forced submission failed")
	}
}

// Submit is the single submission entry point for all three triggers. The
// first caller to observe ACTIVE wins the compare-and-set and performs the
// one network effect; every other caller returns ErrNotActive immediately.
// On provider failure the attempt reverts to ACTIVE with answers and
// countdown intact, so any trigger can safely retry.
func (c *Controller) Submit(ctx context.Context, manual bool) (*model.SubmissionResult, error) {
	if !c.status.CompareAndSwap(stActive, stSubmitting) {
		return nil, ErrNotActive
	}

	sub := c.buildSubmission()

	sctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	defer cancel()

	result, err := c.opts.Submissions.Submit(sctx, c.opts.ExamID, sub)
	if err != nil {
		c.status.Store(stActive)
		c.log.Error().Err(err).Bool("manual", manual).Msg("Submission failed, attempt stays active")
		return nil, err
	}

	c.status.Store(stSubmitted)
	c.teardown(result)

	c.log.Info().
		Bool("manual", manual).
		Int("answers", len(sub.Answers)).
		Int64("tab_switches", sub.TabSwitches).
		Msg("Attempt submitted")

	return result, nil
}

// buildSubmission packages answers ordered by the exam's question order,
// with any answers for unknown question ids appended in sorted order so
// the body is deterministic across retries.
func (c *Controller) buildSubmission() model.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := model.Submission{
		Answers:     make([]model.SubmittedAnswer, 0, len(c.answers)),
		TabSwitches: c.tabSwitches.Load(),
	}

	seen := make(map[string]bool, len(c.answers))
	if c.exam != nil {
		for _, q := range c.exam.Questions {
			if v, ok := c.answers[q.ID]; ok {
				sub.Answers = append(sub.Answers, model.SubmittedAnswer{QuestionID: q.ID, Value: v})
				seen[q.ID] = true
			}
		}
	}

	var extras []string
	for qid := range c.answers {
		if !seen[qid] {
			extras = append(extras, qid)
		}
	}
	sort.Strings(extras)
	for _, qid := range extras {
		sub.Answers = append(sub.Answers, model.SubmittedAnswer{QuestionID: qid, Value: c.answers[qid]})
	}

	return sub
}

// teardown erases persisted state for this attempt and stops the countdown
// and monitor. Runs once, immediately after the SUBMITTED transition.
func (c *Controller) teardown(result *model.SubmissionResult) {
	ctx := context.Background()

	if c.countdown != nil {
		c.countdown.Stop()
	}
	if err := clock.ClearSnapshot(ctx, c.opts.TimerStore, c.timerKey()); err != nil {
		c.log.Warn().Err(err).Msg("Countdown snapshot clear skipped")
	}
	if c.opts.Drafts != nil {
		c.opts.Drafts.Clear(ctx, c.opts.User.UserID, c.opts.ExamID)
	}
	if c.sub != nil {
		c.sub.Detach()
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
}

// RequestFullscreen retries the fullscreen request manually, clearing the
// blocked flag on success.
func (c *Controller) RequestFullscreen() error {
	if c.opts.Fullscreen == nil {
		return nil
	}
	err := c.opts.Fullscreen.Request()

	c.mu.Lock()
	c.fsBlocked = err != nil
	c.mu.Unlock()

	return err
}

// Status returns the attempt lifecycle state.
func (c *Controller) Status() Status {
	switch c.status.Load() {
	case stActive:
		return StatusActive
	case stSubmitting:
		return StatusSubmitting
	case stSubmitted:
		return StatusSubmitted
	default:
		return StatusLoading
	}
}

// Exam returns the loaded exam definition, nil before Initialize succeeds.
func (c *Controller) Exam() *model.ExamDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exam
}

// Answers returns a copy of the current answer mapping.
func (c *Controller) Answers() map[string]model.AnswerValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyAnswers(c.answers)
}

// TabSwitchCount returns the violations recorded so far.
func (c *Controller) TabSwitchCount() int64 {
	return c.tabSwitches.Load()
}

// Remaining returns the countdown's remaining seconds, 0 before Initialize.
func (c *Controller) Remaining() int {
	if c.countdown == nil {
		return 0
	}
	return c.countdown.Remaining()
}

// Ticks exposes the countdown stream for display, nil before Initialize.
func (c *Controller) Ticks() <-chan clock.Tick {
	if c.countdown == nil {
		return nil
	}
	return c.countdown.Ticks()
}

// Result returns the provider's grading summary once SUBMITTED.
func (c *Controller) Result() *model.SubmissionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// FullscreenBlocked reports whether the environment denied the automatic
// fullscreen request and a manual affordance should be shown.
func (c *Controller) FullscreenBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsBlocked
}

func (c *Controller) timerKey() string {
	return store.Key.AttemptTimerKey(c.opts.User.UserID, c.opts.ExamID)
}

func copyAnswers(in map[string]model.AnswerValue) map[string]model.AnswerValue {
	out := make(map[string]model.AnswerValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
