// Package resolver turns food candidates into nutrition records by querying sources concurrently.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nutritionagent"
	"nutritionagent/tools"
)

const (
	defaultMaxConcurrency = 8
	defaultTaskTimeout    = 10 * time.Second
)

// Resolver fans out one task per candidate and joins on all of them. A task that fails or
// runs out of time yields a degraded record; it never fails the batch.
type Resolver struct {
	source         tools.Source
	maxConcurrency int
	taskTimeout    time.Duration

	tracer   trace.Tracer
	tasks    metric.Int64Counter
	degraded metric.Int64Counter
	duration metric.Float64Histogram
}

type Option func(*Resolver)

func WithMaxConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.taskTimeout = d
		}
	}
}

// New uses the global OpenTelemetry providers, which are no-ops unless InitOtel installed real ones.
func New(source tools.Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:         source,
		maxConcurrency: defaultMaxConcurrency,
		taskTimeout:    defaultTaskTimeout,
		tracer:         otel.Tracer(nutritionagent.TracerNameResolver),
	}
	for _, opt := range opts {
		opt(r)
	}

	meter := otel.Meter(nutritionagent.MeterName)
	r.tasks, _ = meter.Int64Counter("resolver_tasks_total",
		metric.WithDescription("Total number of resolution tasks run"))
	r.degraded, _ = meter.Int64Counter("resolver_tasks_degraded_total",
		metric.WithDescription("Total number of resolution tasks that produced a zero-valued record"))
	r.duration, _ = meter.Float64Histogram("resolver_task_duration_seconds",
		metric.WithDescription("Duration of individual resolution tasks in seconds"))
	return r
}

// ResolveAll returns exactly one record per candidate, in candidate order. Each task writes only
// its own slot.
func (r *Resolver) ResolveAll(ctx context.Context, candidates []nutritionagent.FoodCandidate, state nutritionagent.ConversationState) []nutritionagent.NutritionRecord {
	ctx, span := r.tracer.Start(ctx, "Resolver.ResolveAll",
		trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	defer span.End()

	slog.Info("RESOLVER: Starting fan-out", "candidates", len(candidates), "max_concurrency", r.maxConcurrency)

	records := make([]nutritionagent.NutritionRecord, len(candidates))
	memory := append([]string(nil), state.UserMemory...)

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			records[i] = r.resolveOne(ctx, c, memory)
			return nil
		})
	}
	_ = g.Wait()

	degraded := 0
	for _, rec := range records {
		if rec.Degraded {
			degraded++
		}
	}
	span.SetAttributes(attribute.Int("degraded", degraded))
	slog.Info("RESOLVER: Fan-in complete", "records", len(records), "degraded", degraded)
	return records
}

func (r *Resolver) resolveOne(ctx context.Context, c nutritionagent.FoodCandidate, memory []string) nutritionagent.NutritionRecord {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.taskTimeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "Resolver.Task", trace.WithAttributes(
		attribute.String("food_id", c.ID),
		attribute.String("food", c.Name),
	))
	defer span.End()

	rec, err := r.lookup(ctx, c, memory)
	elapsed := time.Since(start)

	attrs := metric.WithAttributes(attribute.Bool("degraded", err != nil))
	r.tasks.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)

	if err != nil {
		r.degraded.Add(ctx, 1)
		span.SetStatus(codes.Error, "degraded")
		span.RecordError(err)
		slog.Warn("RESOLVER: Task degraded",
			"food_id", c.ID,
			"food", c.Name,
			"duration", elapsed,
			"error", err,
		)
		return Degrade(c)
	}

	slog.Info("RESOLVER: Task finished",
		"food_id", c.ID,
		"food", c.Name,
		"source", rec.Source,
		"calories", rec.Calories,
		"duration", elapsed,
	)
	return rec
}

type queryResult struct {
	matches []tools.Match
	err     error
}

func (r *Resolver) lookup(ctx context.Context, c nutritionagent.FoodCandidate, memory []string) (nutritionagent.NutritionRecord, error) {
	// The source may ignore ctx; the task still returns when its budget runs out.
	ch := make(chan queryResult, 1)
	go func() {
		m, err := r.source.Query(ctx, c.Name)
		ch <- queryResult{matches: m, err: err}
	}()

	var res queryResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nutritionagent.NutritionRecord{}, ctx.Err()
	}
	if res.err != nil {
		return nutritionagent.NutritionRecord{}, res.err
	}

	best, ok := Select(c.Name, res.matches, memory)
	if !ok {
		return nutritionagent.NutritionRecord{}, nutritionagent.ErrLookupMiss
	}
	return Scale(best, c), nil
}

// Degrade builds the zero-valued record for a candidate whose lookup failed.
func Degrade(c nutritionagent.FoodCandidate) nutritionagent.NutritionRecord {
	return nutritionagent.NutritionRecord{
		ID:          c.TargetID,
		FoodID:      c.ID,
		Name:        c.Name,
		EatenAt:     c.EatenAt,
		MealType:    c.MealType,
		ServingSize: c.Quantity,
		Others:      map[string]float64{},
		Degraded:    true,
	}
}
