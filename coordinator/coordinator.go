// Package coordinator runs one conversational turn through classification, parsing, the
// ambiguity gate, resolution and merging.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"nutritionagent"
	"nutritionagent/gate"
	"nutritionagent/merger"
	"nutritionagent/session"
)

type resolver interface {
	ResolveAll(ctx context.Context, candidates []nutritionagent.FoodCandidate, state nutritionagent.ConversationState) []nutritionagent.NutritionRecord
}

type resultMerger interface {
	Merge(records []nutritionagent.NutritionRecord, parsed nutritionagent.ParsedFoods, intent nutritionagent.Intent, state nutritionagent.ConversationState) (nutritionagent.FinalResult, error)
}

// Coordinator owns the turn state machine. Turns for one session never overlap in this process;
// across processes the store's version check catches concurrent writers.
type Coordinator struct {
	classifier nutritionagent.Classifier
	parser     nutritionagent.Parser
	resolver   resolver
	merger     resultMerger
	store      session.Store
	describer  nutritionagent.Describer
	logger     nutritionagent.TurnLogger
	locks      *session.Locks
	now        func() time.Time

	tracer        trace.Tracer
	turns         metric.Int64Counter
	turnsDone     metric.Int64Counter
	turnsFailed   metric.Int64Counter
	turnsHalted   metric.Int64Counter
	turnDuration  metric.Float64Histogram
	stageDuration metric.Float64Histogram
}

type Option func(*Coordinator)

// WithDescriber enables image-only messages.
func WithDescriber(d nutritionagent.Describer) Option {
	return func(c *Coordinator) { c.describer = d }
}

func WithTurnLogger(l nutritionagent.TurnLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock fixes the time used to resolve phrases like "this morning".
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(classifier nutritionagent.Classifier, parser nutritionagent.Parser, r resolver, m resultMerger, store session.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		classifier: classifier,
		parser:     parser,
		resolver:   r,
		merger:     m,
		store:      store,
		logger:     nutritionagent.NewNoOpTurnLogger(),
		locks:      session.NewLocks(),
		now:        time.Now,
		tracer:     otel.Tracer(nutritionagent.TracerNameCoordinator),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter(nutritionagent.MeterName)
	c.turns, _ = meter.Int64Counter("coordinator_turns_total",
		metric.WithDescription("Total number of turns started"))
	c.turnsDone, _ = meter.Int64Counter("coordinator_turns_completed_total",
		metric.WithDescription("Total number of turns that produced a final result"))
	c.turnsFailed, _ = meter.Int64Counter("coordinator_turns_failed_total",
		metric.WithDescription("Total number of turns that failed"))
	c.turnsHalted, _ = meter.Int64Counter("coordinator_turns_halted_total",
		metric.WithDescription("Total number of turns that halted for clarification"))
	c.turnDuration, _ = meter.Float64Histogram("coordinator_turn_duration_seconds",
		metric.WithDescription("Total duration of a turn in seconds"))
	c.stageDuration, _ = meter.Float64Histogram("coordinator_stage_duration_seconds",
		metric.WithDescription("Duration of individual turn stages in seconds"))
	return c
}

// EndSession drops the stored state of a session. It waits for a running turn of that session.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := c.locks.Lock(sessionID)
	defer unlock()

	if err := c.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	slog.Info("COORDINATOR: Session ended", "session_id", sessionID)
	return nil
}

// turn carries what one Run has learned so far.
type turn struct {
	sessionID string
	start     time.Time
	span      trace.Span
	loaded    nutritionagent.ConversationState
	state     nutritionagent.ConversationState
}

// Run executes one turn. Failures come back as *nutritionagent.TurnError and leave the stored
// state untouched.
func (c *Coordinator) Run(ctx context.Context, req nutritionagent.TurnRequest) (nutritionagent.TurnResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		slog.Info("COORDINATOR: Started new session", "session_id", sessionID)
	}

	unlock := c.locks.Lock(sessionID)
	defer unlock()

	ctx, span := c.tracer.Start(ctx, "Coordinator.Run", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Bool("has_image", req.NewMessage.Image != nil),
	))
	defer span.End()

	t := &turn{sessionID: sessionID, start: time.Now(), span: span}
	c.turns.Add(ctx, 1)
	slog.Info("COORDINATOR: Starting turn", "session_id", sessionID, "user_id", req.UserID)

	loaded, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return c.fail(ctx, t, nutritionagent.StageClassifying, nutritionagent.KindStateInconsistency,
			fmt.Errorf("failed to load session: %w", err))
	}
	t.loaded = loaded
	t.state = loaded.Clone()
	if req.UserID != "" {
		t.state.UserID = req.UserID
	}
	t.state.UserMemory = mergeMemory(t.state.UserMemory, req.UserMemory)

	in, err := c.transcribe(ctx, t, req.NewMessage)
	if err != nil {
		return c.fail(ctx, t, nutritionagent.StageTranscribing, nutritionagent.KindTranscriptionFailure, err)
	}

	intent, err := c.classify(ctx, t, in)
	if err != nil {
		return c.fail(ctx, t, nutritionagent.StageClassifying, nutritionagent.KindClassificationFailure, err)
	}

	parsed, err := c.parse(ctx, t, in, intent)
	if err != nil {
		return c.fail(ctx, t, nutritionagent.StageParsing, nutritionagent.KindParseFailure, err)
	}

	decision, err := gate.Check(parsed)
	if err != nil {
		return c.fail(ctx, t, nutritionagent.StageParsing, nutritionagent.KindParseFailure, err)
	}
	if !decision.Proceed {
		return c.halt(ctx, t, intent, parsed, decision)
	}
	t.state = gate.Apply(t.state, parsed, decision)

	records := c.resolve(ctx, t, decision.Candidates)

	result, err := c.merge(ctx, t, records, parsed, intent)
	if err != nil {
		kind := nutritionagent.KindParseFailure
		switch {
		case errors.Is(err, nutritionagent.ErrStateConflict):
			kind = nutritionagent.KindStateInconsistency
		case errors.Is(err, nutritionagent.ErrClassification):
			kind = nutritionagent.KindClassificationFailure
		}
		return c.fail(ctx, t, nutritionagent.StageMerging, kind, err)
	}

	if _, err := c.store.Save(ctx, merger.Complete(t.state, intent, c.now())); err != nil {
		return c.fail(ctx, t, nutritionagent.StageDone, nutritionagent.KindStateInconsistency,
			fmt.Errorf("failed to save session: %w", err))
	}

	elapsed := time.Since(t.start)
	c.turnsDone.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", string(intent.Type))))
	c.turnDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", string(result.Status))))
	c.logStage(t, nutritionagent.StageDone, t.start, nil, result, nil)

	slog.Info("COORDINATOR: Turn complete",
		"session_id", sessionID,
		"status", result.Status,
		"foods", len(result.Foods),
		"duration", elapsed,
	)
	return nutritionagent.TurnResponse{
		SessionID: sessionID,
		Status:    result.Status,
		Result:    &result,
	}, nil
}

// transcribe turns an image-only message into text.
func (c *Coordinator) transcribe(ctx context.Context, t *turn, msg nutritionagent.Message) (nutritionagent.Input, error) {
	in := nutritionagent.Input{Text: strings.TrimSpace(msg.Text), Now: c.now()}
	if msg.Image == nil || in.Text != "" {
		return in, nil
	}
	if c.describer == nil {
		return in, fmt.Errorf("%w: images are not supported by this agent", nutritionagent.ErrTranscription)
	}

	ctx, span := c.tracer.Start(ctx, "Coordinator.Transcribe")
	defer span.End()
	start := time.Now()

	text, err := c.describer.Describe(ctx, *msg.Image)
	c.recordStage(ctx, nutritionagent.StageTranscribing, start)
	if err != nil {
		span.RecordError(err)
		return in, fmt.Errorf("%w: %v", nutritionagent.ErrTranscription, err)
	}
	if strings.TrimSpace(text) == "" {
		return in, fmt.Errorf("%w: no food found in image", nutritionagent.ErrTranscription)
	}

	in.Text = strings.TrimSpace(text)
	in.FromImage = true
	c.logStage(t, nutritionagent.StageTranscribing, start, msg.Image.MIMEType, in.Text, nil)
	return in, nil
}

func (c *Coordinator) classify(ctx context.Context, t *turn, in nutritionagent.Input) (nutritionagent.Intent, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Classify")
	defer span.End()
	start := time.Now()

	intent, err := c.classifier.Classify(ctx, in, t.state)
	c.recordStage(ctx, nutritionagent.StageClassifying, start)
	c.logStage(t, nutritionagent.StageClassifying, start, in, intent, err)
	if err != nil {
		span.RecordError(err)
		return nutritionagent.Intent{}, err
	}
	span.SetAttributes(attribute.String("intent", string(intent.Type)))

	if !intent.Type.Valid() {
		return nutritionagent.Intent{}, fmt.Errorf("%w: unknown intent %q", nutritionagent.ErrClassification, intent.Type)
	}

	switch {
	case intent.Type == nutritionagent.IntentAnswerQuestion && !t.state.QuestionsPending:
		slog.Warn("COORDINATOR: Answer without open questions; logging as a new meal", "session_id", t.sessionID)
		intent = nutritionagent.Intent{Type: nutritionagent.IntentNewMeal, Reasoning: "no questions were pending"}
	case intent.Type != nutritionagent.IntentAnswerQuestion && t.state.QuestionsPending:
		slog.Info("COORDINATOR: Discarding unanswered questions", "session_id", t.sessionID, "intent", intent.Type)
		t.state.QuestionsPending = false
		t.state.LastParsedFoods = nil
	}
	return intent, nil
}

func (c *Coordinator) parse(ctx context.Context, t *turn, in nutritionagent.Input, intent nutritionagent.Intent) (nutritionagent.ParsedFoods, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Parse")
	defer span.End()
	start := time.Now()

	parsed, err := c.parser.Parse(ctx, in, intent, t.state)
	c.recordStage(ctx, nutritionagent.StageParsing, start)
	c.logStage(t, nutritionagent.StageParsing, start, in.Text, parsed, err)
	if err != nil {
		span.RecordError(err)
		return nutritionagent.ParsedFoods{}, err
	}
	span.SetAttributes(
		attribute.Int("foods", len(parsed.Foods)),
		attribute.Int("questions", len(parsed.Questions)),
	)
	return parsed, nil
}

// halt persists the parse for the next turn and returns the open questions.
func (c *Coordinator) halt(ctx context.Context, t *turn, intent nutritionagent.Intent, parsed nutritionagent.ParsedFoods, d gate.Decision) (nutritionagent.TurnResponse, error) {
	next := gate.Apply(t.state, parsed, d)
	next.LastIntent = &intent
	next.UpdatedAt = c.now()
	if _, err := c.store.Save(ctx, next); err != nil {
		return c.fail(ctx, t, nutritionagent.StageAwaitingClarification, nutritionagent.KindStateInconsistency,
			fmt.Errorf("failed to save session: %w", err))
	}

	c.turnsHalted.Add(ctx, 1)
	c.turnDuration.Record(ctx, time.Since(t.start).Seconds(),
		metric.WithAttributes(attribute.String("status", string(nutritionagent.StatusQuestionsPending))))
	c.logStage(t, nutritionagent.StageAwaitingClarification, t.start, nil, d, nil)
	t.span.AddEvent("Halted for clarification", trace.WithAttributes(attribute.Int("questions", len(d.Questions))))

	slog.Info("COORDINATOR: Waiting for answers", "session_id", t.sessionID, "questions", len(d.Questions))
	return nutritionagent.TurnResponse{
		SessionID: t.sessionID,
		Status:    nutritionagent.StatusQuestionsPending,
		Questions: d.Questions,
		Resolved:  d.Candidates,
	}, nil
}

func (c *Coordinator) resolve(ctx context.Context, t *turn, candidates []nutritionagent.FoodCandidate) []nutritionagent.NutritionRecord {
	var todo []nutritionagent.FoodCandidate
	for _, cand := range candidates {
		if cand.NeedsResolution() {
			todo = append(todo, cand)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	start := time.Now()
	records := c.resolver.ResolveAll(ctx, todo, t.state)
	c.recordStage(ctx, nutritionagent.StageResolving, start)
	c.logStage(t, nutritionagent.StageResolving, start, todo, records, nil)
	return records
}

// merge re-reads the session first; a writer that got in since the turn started, or a pending
// question the gate did not see, means the turn cannot be trusted.
func (c *Coordinator) merge(ctx context.Context, t *turn, records []nutritionagent.NutritionRecord, parsed nutritionagent.ParsedFoods, intent nutritionagent.Intent) (nutritionagent.FinalResult, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Merge")
	defer span.End()
	start := time.Now()

	current, err := c.store.Load(ctx, t.sessionID)
	if err != nil {
		return nutritionagent.FinalResult{}, fmt.Errorf("%w: failed to re-read session: %v", nutritionagent.ErrStateConflict, err)
	}
	if current.Version != t.loaded.Version {
		return nutritionagent.FinalResult{}, fmt.Errorf("%w: session moved from version %d to %d during the turn",
			nutritionagent.ErrStateConflict, t.loaded.Version, current.Version)
	}

	result, err := c.merger.Merge(records, parsed, intent, t.state)
	c.recordStage(ctx, nutritionagent.StageMerging, start)
	c.logStage(t, nutritionagent.StageMerging, start, len(records), result, err)
	if err != nil {
		span.RecordError(err)
		return nutritionagent.FinalResult{}, err
	}
	return result, nil
}

func (c *Coordinator) fail(ctx context.Context, t *turn, stage nutritionagent.Stage, kind nutritionagent.ErrorKind, err error) (nutritionagent.TurnResponse, error) {
	te := nutritionagent.NewTurnError(kind, stage, err)

	c.turnsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("stage", string(stage)),
	))
	c.turnDuration.Record(ctx, time.Since(t.start).Seconds(), metric.WithAttributes(attribute.String("status", "failed")))
	t.span.SetStatus(codes.Error, string(kind))
	t.span.RecordError(err)
	c.logStage(t, stage, t.start, nil, nil, te)

	slog.Error("COORDINATOR: Turn failed",
		"session_id", t.sessionID,
		"stage", stage,
		"kind", kind,
		"retryable", te.Retryable,
		"error", err,
	)
	return nutritionagent.TurnResponse{SessionID: t.sessionID}, te
}

func (c *Coordinator) recordStage(ctx context.Context, stage nutritionagent.Stage, start time.Time) {
	c.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("stage", string(stage))))
}

func (c *Coordinator) logStage(t *turn, stage nutritionagent.Stage, start time.Time, input, output any, err error) {
	entry := nutritionagent.StageLog{
		SessionID: t.sessionID,
		Stage:     stage,
		Timestamp: time.Now(),
		Duration:  time.Since(start).String(),
		Input:     input,
		Output:    output,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := c.logger.LogStage(entry); lerr != nil {
		slog.Error("COORDINATOR: Failed to log stage", "error", lerr, "stage", stage)
	}
}

func mergeMemory(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, m := range add {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		dup := false
		for _, h := range out {
			if strings.EqualFold(h, m) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}
