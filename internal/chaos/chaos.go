// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	Setup       []Action
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration is how long probes are sampled after the method ran.
	// Zero samples once.
	Duration time.Duration
	Interval time.Duration
}

// Probe measures a property of the system under test
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action injects a fault, prepares state or cleans up
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the final observation of a probe
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data
type Result struct {
	RunID            uuid.UUID              `json:"run_id"`
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer      trace.Tracer
	logger      *slog.Logger
	experiments []Experiment
	results     []Result
	mu          sync.Mutex
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("libinventory/chaos"),
		logger: logger,
	}
}

// Register adds an experiment to the suite
func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes a single experiment
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		RunID:          uuid.New(),
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	// Phase 0: Prepare state
	span.AddEvent("setup")
	for _, action := range exp.Setup {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			e.rollback(ctx, exp)
			return e.finish(result), err
		}
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		e.rollback(ctx, exp)
		return e.finish(result), ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	e.rollback(ctx, exp)

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.HypothesisHeld = e.validateAssertions(exp.Validation, result)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)

	return e.finish(result), nil
}

func (e *Engine) finish(result *Result) *Result {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	return result
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	e.sample(ctx, exp.SteadyState, result)
	if exp.Duration <= 0 {
		return
	}

	interval := exp.Interval
	if interval <= 0 {
		interval = time.Second
	}

	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result)
		}
	}
}

func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result) {
	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: probe.Name,
			})
			continue
		}

		result.Observations[probe.Name] = append(
			result.Observations[probe.Name],
			DataPoint{Timestamp: time.Now(), Value: value},
		)

		if !evaluateThreshold(value, probe.Threshold) {
			result.Violations = append(result.Violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
}

func (e *Engine) rollback(ctx context.Context, exp Experiment) {
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			e.logger.Warn("chaos rollback action failed", "experiment", exp.Name, "target", action.Target, "error", err)
		}
	}
}

func (e *Engine) validateSteadyState(ctx context.Context, probes []Probe) (bool, []Violation) {
	violations := make([]Violation, 0)

	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			violations = append(violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    -1,
				Timestamp: time.Now(),
			})
			continue
		}

		if !evaluateThreshold(value, probe.Threshold) {
			violations = append(violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

func (e *Engine) validateAssertions(assertions []Assertion, result *Result) bool {
	held := true
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Probe]
		if len(observations) == 0 || !assertion.Condition(observations[len(observations)-1].Value) {
			result.FailedAssertions = append(result.FailedAssertions, assertion.Message)
			held = false
		}
	}
	return held
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	// Pause between scenarios.
	Pause time.Duration
}

// ExecuteGameDay runs every scenario and reports whether all hypotheses held.
func (e *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", gameDay.Name)),
	)
	defer span.End()

	e.logger.Info("starting game day", "name", gameDay.Name, "date", gameDay.Date.Format(time.DateOnly))

	allHeld := true
	for i, scenario := range gameDay.Scenarios {
		e.logger.Info("running experiment",
			"index", i+1,
			"total", len(gameDay.Scenarios),
			"experiment", scenario.Name,
			"hypothesis", scenario.Hypothesis,
		)

		result, err := e.Run(ctx, scenario)
		if err != nil {
			e.logger.Error("experiment failed", "experiment", scenario.Name, "error", err)
			allHeld = false
			continue
		}

		e.logResult(result)
		allHeld = allHeld && result.HypothesisHeld

		if gameDay.Pause > 0 && i < len(gameDay.Scenarios)-1 {
			select {
			case <-time.After(gameDay.Pause):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}

	return allHeld, nil
}

func (e *Engine) logResult(result *Result) {
	attrs := []any{
		"experiment", result.ExperimentName,
		"run_id", result.RunID.String(),
		"violations", len(result.Violations),
		"errors", len(result.ErrorEvents),
		"duration", result.Duration.String(),
	}
	if result.HypothesisHeld {
		e.logger.Info("hypothesis held", attrs...)
		return
	}
	e.logger.Warn("hypothesis violated", append(attrs, "failed_assertions", result.FailedAssertions)...)
}
