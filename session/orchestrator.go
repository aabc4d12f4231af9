/*
orchestrator.go - Reconciliation session state machine

PURPOSE:
  Runs one complete reconciliation for a (property, period) pair:

    1. Acquire the exclusive per-(property, period) lock; a second caller
       fails fast with ConcurrencyError instead of queuing silently.
    2. Pin the active rule set (registry reads are versioned, so edits
       during the run simply don't affect it).
    3. Evaluate rules in parallel across a bounded worker pool. Rules are
       read-only against the shared line-item snapshot and write
       independent result rows, so no cross-rule locking exists.
    4. Run the anomaly detector passes.
    5. Join, summarize, and commit results all-or-nothing.

ERROR CONTAINMENT:
  A per-rule error is recorded on that rule's result row (FAIL with the
  error note, or SKIPPED for missing-data conditions) and never aborts the
  session. Only infrastructure failures - the rule or line-item fetch
  itself - mark the session failed, and then nothing is committed.

CANCELLATION:
  Cooperative. In-flight rule evaluations finish naturally (they are
  short-lived pure functions); no new evaluations dispatch after the
  cancel flag is set, and partial results are discarded, consistent with
  the all-or-nothing commit policy.
*/
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/recon-engine/anomaly"
	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/formula"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options selects document types, matcher strategies, and run behavior.
// The matcher flags select which resolution strategies participate, not
// which rules run.
type Options struct {
	DocumentTypes []engine.DocumentType // empty = all

	UseExact    bool
	UseFuzzy    bool
	UseNameOnly bool

	// Concurrency bounds the rule-evaluation worker pool. <=0 means
	// DefaultConcurrency.
	Concurrency int

	// SkipAnomalies disables the detector passes for this run.
	SkipAnomalies bool
}

const DefaultConcurrency = 4

func DefaultOptions() Options {
	return Options{UseExact: true, UseFuzzy: true, UseNameOnly: true}
}

func (o Options) docTypes() []engine.DocumentType {
	if len(o.DocumentTypes) == 0 {
		return engine.AllDocumentTypes()
	}
	return o.DocumentTypes
}

func (o Options) matcherOptions() engine.MatcherOptions {
	return engine.MatcherOptions{
		UseExact:    o.UseExact,
		UseFuzzy:    o.UseFuzzy,
		UseNameOnly: o.UseNameOnly,
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	Store    engine.Store
	Detector *anomaly.Detector

	// Concurrency is the worker-pool size used when a run's Options
	// leave it unset. <=0 means DefaultConcurrency.
	Concurrency int

	mu      sync.Mutex
	running map[lockKey]*runHandle
}

type lockKey struct {
	Property engine.PropertyID
	Period   engine.PeriodID
}

type runHandle struct {
	sessionID engine.SessionID
	cancel    context.CancelFunc
}

func NewOrchestrator(store engine.Store, detector *anomaly.Detector) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		Detector: detector,
		running:  make(map[lockKey]*runHandle),
	}
}

// Run executes a full reconciliation session synchronously and returns
// the terminal session record.
func (o *Orchestrator) Run(ctx context.Context, property engine.PropertyID, period engine.PeriodID, opts Options) (engine.Session, error) {
	if !period.Valid() {
		return engine.Session{}, fmt.Errorf("invalid period %q", period)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := engine.Session{
		ID:         engine.SessionID(uuid.NewString()),
		PropertyID: property,
		PeriodID:   period,
		Status:     engine.SessionRunning,
		StartedAt:  time.Now().UTC(),
	}

	// Exclusive lock: at most one session per (property, period).
	if err := o.acquire(property, period, session.ID, cancel); err != nil {
		return engine.Session{}, err
	}
	defer o.release(property, period)

	if err := o.Store.CreateSession(ctx, session); err != nil {
		return engine.Session{}, err
	}

	results, anomalies, err := o.execute(runCtx, session, opts)
	now := time.Now().UTC()
	session.CompletedAt = &now

	switch {
	case runCtx.Err() != nil:
		// Cancelled: discard partial results.
		session.Status = engine.SessionCancelled
		session.ErrorNote = engine.ErrSessionCancelled.Error()
	case err != nil:
		// Infrastructure failure: nothing committed.
		session.Status = engine.SessionFailed
		session.ErrorNote = err.Error()
	default:
		summary := engine.Summarize(results, anomalies)
		session.Summary = &summary
		session.Status = engine.SessionCompleted
		if err := o.Store.ReplaceResults(ctx, session, results, anomalies); err != nil {
			session.Status = engine.SessionFailed
			session.ErrorNote = err.Error()
			session.Summary = nil
		}
	}

	if err := o.Store.UpdateSession(ctx, session); err != nil {
		log.Printf("[Session] failed to persist terminal state for %s: %v", session.ID, err)
	}
	return session, nil
}

// Cancel sets the cancellation flag for a running session. Safe to call
// for unknown ids; returns false when nothing was running.
func (o *Orchestrator) Cancel(id engine.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, h := range o.running {
		if h.sessionID == id {
			h.cancel()
			return true
		}
	}
	return false
}

func (o *Orchestrator) acquire(property engine.PropertyID, period engine.PeriodID, id engine.SessionID, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := lockKey{Property: property, Period: period}
	if _, held := o.running[k]; held {
		return &engine.ConcurrencyError{PropertyID: property, PeriodID: period}
	}
	o.running[k] = &runHandle{sessionID: id, cancel: cancel}
	return nil
}

func (o *Orchestrator) release(property engine.PropertyID, period engine.PeriodID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, lockKey{Property: property, Period: period})
}

// =============================================================================
// EXECUTION
// =============================================================================

func (o *Orchestrator) execute(ctx context.Context, session engine.Session, opts Options) ([]engine.ReconciliationResult, []engine.AnomalyResult, error) {
	docTypes := opts.docTypes()

	// Infrastructure reads: failure here fails the whole session.
	rules, err := o.Store.GetActiveRules(ctx, docTypes, session.PropertyID, session.PeriodID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch rules: %w", err)
	}
	snap := newSnapshot(ctx, o.Store, session.PropertyID, session.PeriodID)
	if err := snap.preload(docTypes); err != nil {
		return nil, nil, fmt.Errorf("fetch line items: %w", err)
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = o.Concurrency
	}
	if workers <= 0 {
		workers = DefaultConcurrency
	}

	matcher := engine.NewMatcher(opts.matcherOptions())
	results := o.evaluateRules(ctx, session, rules, snap, matcher, workers)

	var anomalies []engine.AnomalyResult
	if !opts.SkipAnomalies && ctx.Err() == nil {
		anomalies, err = o.detectAnomalies(ctx, session, snap)
		if err != nil {
			return nil, nil, fmt.Errorf("anomaly detection: %w", err)
		}
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	return results, anomalies, nil
}

// evaluateRules fans rules out over a bounded worker pool and joins before
// returning: the summary must only be computed after every evaluation has
// completed.
func (o *Orchestrator) evaluateRules(ctx context.Context, session engine.Session, rules []engine.Rule, snap *snapshot, matcher *engine.Matcher, workers int) []engine.ReconciliationResult {
	jobs := make(chan engine.Rule)
	out := make(chan engine.ReconciliationResult, len(rules))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rule := range jobs {
				out <- o.evaluateRule(session, rule, snap, matcher)
			}
		}()
	}

	// Dispatch stops at cancellation; in-flight evaluations drain.
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		jobs <- rule
	}
	close(jobs)
	wg.Wait()
	close(out)

	var results []engine.ReconciliationResult
	for r := range out {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RuleID < results[j].RuleID })
	return results
}

// evaluateRule runs one rule end to end: evaluate, classify, record.
// Panics and errors are contained to this rule's result row.
func (o *Orchestrator) evaluateRule(session engine.Session, rule engine.Rule, snap *snapshot, matcher *engine.Matcher) (result engine.ReconciliationResult) {
	result = engine.ReconciliationResult{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		RuleID:      rule.RuleID,
		RuleVersion: rule.Version,
		PropertyID:  session.PropertyID,
		PeriodID:    session.PeriodID,
		Severity:    rule.Severity,
		EvaluatedAt: time.Now().UTC(),
	}

	defer func() {
		if p := recover(); p != nil {
			result.Status = engine.StatusFail
			result.ErrorNote = fmt.Sprintf("panic during evaluation: %v", p)
		}
	}()

	outcome := ruleOutcome(rule, snap, matcher)
	switch outcome.Kind {
	case engine.OutcomeSkipped:
		result.Status = engine.StatusSkipped
		result.ErrorNote = outcome.SkipReason

	case engine.OutcomeFailed:
		result.Status = engine.StatusFail
		result.ErrorNote = outcome.Err.Error()

	case engine.OutcomeEvaluated:
		result.ExpectedValue = outcome.Expected
		result.ActualValue = outcome.Actual
		if outcome.Op != "" {
			c := engine.ClassifyComparison(outcome.Op, outcome.Expected, outcome.Actual, engine.TolerancesOf(rule))
			result.Status = c.Status
			result.VarianceAbsolute = c.VarianceAbsolute
			result.VariancePercent = c.VariancePercent
			break
		}
		// Compound conditions and bare values carry no comparison
		// operands; the verdict is Holds with no meaningful variance.
		result.Status = engine.StatusFail
		if outcome.Holds {
			result.Status = engine.StatusPass
		}
	}
	return result
}

// ruleOutcome evaluates one rule's formula to a tagged outcome. Skips,
// evaluation errors, and verdicts all surface as explicit kinds so batch
// callers cannot mistake a swallowed error for a pass.
func ruleOutcome(rule engine.Rule, snap *snapshot, matcher *engine.Matcher) engine.RuleOutcome {
	out, err := formula.EvaluateText(rule.Formula, newRuleContext(snap, matcher, rule))
	if err != nil {
		if engine.IsSkip(err) {
			return engine.RuleOutcome{Kind: engine.OutcomeSkipped, SkipReason: err.Error()}
		}
		return engine.RuleOutcome{Kind: engine.OutcomeFailed, Err: err}
	}

	ro := engine.RuleOutcome{Kind: engine.OutcomeEvaluated, Matches: out.Matches}
	switch out.Kind {
	case formula.OutcomeComparison:
		ro.Expected = out.Expected
		ro.Actual = out.Actual
		ro.Op = out.Op
		ro.Holds = out.Holds
	case formula.OutcomeCondition:
		ro.Holds = out.Holds
	case formula.OutcomeValue:
		// A bare value asserts nothing; record it and pass.
		ro.Expected = out.Value
		ro.Actual = out.Value
		ro.Holds = true
	}
	return ro
}

// =============================================================================
// ANOMALY PASSES
// =============================================================================

// detectAnomalies runs the time-series tests per account plus the
// property-wide distribution tests. Read failures here are infrastructure
// failures; individual detectors SKIP themselves on sparse data.
func (o *Orchestrator) detectAnomalies(ctx context.Context, session engine.Session, snap *snapshot) ([]engine.AnomalyResult, error) {
	items := snap.currentItems()

	type accountKey struct {
		Code engine.AccountCode
		Name string
	}
	accounts := make(map[accountKey]bool)
	var order []accountKey
	for _, item := range items {
		k := accountKey{Code: item.AccountCode, Name: item.AccountName}
		if !accounts[k] {
			accounts[k] = true
			order = append(order, k)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Code != order[j].Code {
			return order[i].Code < order[j].Code
		}
		return order[i].Name < order[j].Name
	})

	cfg := o.Detector.Config()
	window := append(session.PeriodID.TrailingWindow(cfg.ZScoreWindow), session.PeriodID)

	var results []engine.AnomalyResult
	var poolValues []decimal.Decimal
	for _, k := range order {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		history, err := o.Store.GetLineItemHistory(ctx, session.PropertyID, k.Code, k.Name, window)
		if err != nil {
			return nil, err
		}

		series := anomaly.Series{
			PropertyID:  session.PropertyID,
			AccountCode: k.Code,
			AccountName: k.Name,
		}
		for _, item := range history {
			amount, err := engine.Amounts(item)
			if err != nil {
				continue
			}
			series.Points = append(series.Points, anomaly.Point{PeriodID: item.PeriodID, Value: amount})
			poolValues = append(poolValues, amount)
		}
		results = append(results, o.Detector.DetectSeries(series)...)
	}

	// Property-wide distribution tests over the pooled history.
	results = append(results,
		o.Detector.Benford(session.PropertyID, "", "all accounts", session.PeriodID, poolValues),
		o.Detector.RoundNumber(session.PropertyID, "", "all accounts", session.PeriodID, poolValues),
	)

	// Duplicate payments over the recent window. History fetches filter by
	// code alone when a code is present, so name variants of the same code
	// share one fetch; items are still deduped by id because a code-less
	// name fetch can return rows a code fetch already covered.
	dupWindow := append(session.PeriodID.TrailingWindow(1), session.PeriodID)
	var dupItems []engine.LineItem
	fetchedCodes := make(map[engine.AccountCode]bool)
	seenItems := make(map[string]bool)
	for _, k := range order {
		if k.Code != "" {
			if fetchedCodes[k.Code] {
				continue
			}
			fetchedCodes[k.Code] = true
		}
		history, err := o.Store.GetLineItemHistory(ctx, session.PropertyID, k.Code, k.Name, dupWindow)
		if err != nil {
			return nil, err
		}
		for _, item := range history {
			if item.ID != "" && seenItems[item.ID] {
				continue
			}
			seenItems[item.ID] = true
			dupItems = append(dupItems, item)
		}
	}
	results = append(results, o.Detector.Duplicates(session.PropertyID, session.PeriodID, dupItems)...)

	return results, nil
}
