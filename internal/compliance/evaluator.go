// Package compliance scores closed operation sessions against their
// rule's validation checks and forbidden-action detectors, and owns the
// persisted violation log.
package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hollandt/warden/internal/model"
	"github.com/hollandt/warden/internal/rules"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

// DefaultThreshold is the minimum per-session score considered compliant.
const DefaultThreshold = 0.95

// Result is the outcome of scoring one closed session.
type Result struct {
	SessionID  string
	Kind       model.OperationKind
	Checks     int
	Violations []model.Violation
	Score      float64
	Compliant  bool
	CacheHit   bool
}

// Evaluator owns .warden/state/compliance.yaml. Violations are
// append-only; the running score is recomputed from totals, never by
// deleting entries.
type Evaluator struct {
	mu        sync.Mutex
	path      string
	threshold float64
	cache     *ResultCache
	flight    singleflight.Group
}

// NewEvaluator creates an evaluator persisting to path. A non-positive
// threshold falls back to DefaultThreshold.
func NewEvaluator(path string, threshold float64, cacheTTL time.Duration) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{
		path:      path,
		threshold: threshold,
		cache:     NewResultCache(1000, cacheTTL),
	}
}

// Evaluate scores the session context against its operation kind's rule.
// Every failed check and every detected forbidden action is one
// violation, appended to the compliance log with high severity.
// Identical contexts within the cache TTL are scored once.
func (e *Evaluator) Evaluate(ctx rules.Context) (*Result, error) {
	fp := Fingerprint(ctx)

	if cached := e.cache.Get(fp); cached != nil {
		result := *cached
		result.CacheHit = true
		return &result, nil
	}

	// Singleflight collapses concurrent re-evaluations of the same
	// session fingerprint.
	v, err, _ := e.flight.Do(fp, func() (interface{}, error) {
		return e.evaluateUncached(ctx)
	})
	if err != nil {
		return nil, err
	}

	result := v.(*Result)
	e.cache.Set(fp, result)

	out := *result
	return &out, nil
}

func (e *Evaluator) evaluateUncached(ctx rules.Context) (*Result, error) {
	rule, err := rules.Lookup(ctx.Kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var violations []model.Violation

	// An unknown kind in the rule table is itself a failed check: the
	// predicate set is closed, so this only happens on a table bug.
	for _, check := range rule.ValidationChecks {
		passed, detail, err := rules.EvaluateCheck(check, rule, ctx)
		if err != nil {
			passed, detail = false, err.Error()
		}
		if !passed {
			violations = append(violations, model.Violation{
				Timestamp:   now,
				SessionID:   ctx.SessionID,
				Kind:        string(check),
				Description: detail,
				Severity:    model.SeverityHigh,
			})
		}
	}

	for _, forbidden := range rule.ForbiddenActions {
		detected, detail, err := rules.EvaluateForbidden(forbidden, rule, ctx)
		if err != nil {
			detected, detail = true, err.Error()
		}
		if detected {
			violations = append(violations, model.Violation{
				Timestamp:   now,
				SessionID:   ctx.SessionID,
				Kind:        string(forbidden),
				Description: detail,
				Severity:    model.SeverityHigh,
			})
		}
	}

	// Each sandbox breach recorded by the enforcer counts as one more
	// detected forbidden action on top of the rule's own check set, so a
	// breach drags the score down even for kinds with zero checks.
	for _, breach := range ctx.SandboxBreaches {
		violations = append(violations, model.Violation{
			Timestamp:   now,
			SessionID:   ctx.SessionID,
			Kind:        "sandbox_breach",
			Description: fmt.Sprintf("artifact path outside sandbox: %s", breach),
			Severity:    model.SeverityHigh,
		})
	}

	if len(violations) > 0 {
		if err := e.record(violations); err != nil {
			return nil, err
		}
	}

	checks := rule.CheckCount() + len(ctx.SandboxBreaches)
	score := Score(checks, len(violations))
	return &Result{
		SessionID:  ctx.SessionID,
		Kind:       ctx.Kind,
		Checks:     checks,
		Violations: violations,
		Score:      score,
		Compliant:  score >= e.threshold,
	}, nil
}

// RecordOutcome recomputes the running project score after an operation
// is persisted. totalOperations is the operation-history total.
func (e *Evaluator) RecordOutcome(totalOperations int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, err := e.load()
	if err != nil {
		return err
	}
	doc.ComplianceScore = RunningScore(totalOperations, doc.TotalViolations)
	doc.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return wyaml.AtomicWrite(e.path, doc)
}

// Snapshot returns the full compliance log document.
func (e *Evaluator) Snapshot() (*model.ComplianceLog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load()
}

func (e *Evaluator) record(violations []model.Violation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, err := e.load()
	if err != nil {
		return err
	}
	doc.Violations = append(doc.Violations, violations...)
	doc.TotalViolations += len(violations)
	doc.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return wyaml.AtomicWrite(e.path, doc)
}

func (e *Evaluator) load() (*model.ComplianceLog, error) {
	if _, err := os.Stat(e.path); os.IsNotExist(err) {
		return &model.ComplianceLog{
			Version:         wyaml.CurrentSchemaVersion,
			FileType:        wyaml.FileTypeComplianceLog,
			ComplianceScore: 1.0,
		}, nil
	}

	var doc model.ComplianceLog
	if err := wyaml.ReadDocument(e.path, wyaml.FileTypeComplianceLog, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Score is the per-session compliance score: the fraction of checks
// that passed, floored at zero. A session with no checks scores 1.0.
func Score(checks, violations int) float64 {
	if checks == 0 {
		return 1.0
	}
	score := float64(checks-violations) / float64(checks)
	if score < 0 {
		return 0
	}
	return score
}

// RunningScore is the project-wide score: 1 minus the violation rate
// over all recorded operations, clamped to [0, 1].
func RunningScore(totalOperations, totalViolations int) float64 {
	if totalOperations <= 0 {
		return 1.0
	}
	score := 1.0 - float64(totalViolations)/float64(totalOperations)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// Fingerprint derives a stable cache key from the session context: the
// sha256 of its canonical JSON encoding.
func Fingerprint(ctx rules.Context) string {
	data, err := json.Marshal(ctx)
	if err != nil {
		// Context is plain data; Marshal cannot fail on it, but a
		// collision-proof fallback beats a panic.
		data = []byte(fmt.Sprintf("%#v", ctx))
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
