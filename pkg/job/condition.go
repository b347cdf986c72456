package job

import (
	"sync"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"
)

// Condition is a predicate over engine state deciding whether a pending job
// may advance to running. Implementations must be pure with respect to the
// engine state at call time.
type Condition interface {
	Satisfied(e Engine) bool
}

// AfterAnother is satisfied once the referenced job is done.
type AfterAnother struct {
	JobID string
}

func (c *AfterAnother) Satisfied(e Engine) bool {
	other, ok := e.Lookup(c.JobID)
	if !ok {
		return false
	}
	return other.Status() == StatusDone
}

// AfterOthers is satisfied once every referenced job is terminal. Failure
// and cancellation propagation is handled during argument resolution, not
// here. Ids not present in the registry make the condition unsatisfiable.
type AfterOthers struct {
	JobIDs []string
}

func (c *AfterOthers) Satisfied(e Engine) bool {
	for _, id := range c.JobIDs {
		other, ok := e.Lookup(id)
		if !ok {
			return false
		}
		if !other.Status().IsTerminal() {
			return false
		}
	}
	return true
}

// AllSatisfied is the conjunction of its children, evaluated lazily in
// declaration order.
type AllSatisfied struct {
	Conditions []Condition
}

func (c *AllSatisfied) Satisfied(e Engine) bool {
	for _, child := range c.Conditions {
		if !child.Satisfied(e) {
			return false
		}
	}
	return true
}

// AnySatisfied is the disjunction of its children.
type AnySatisfied struct {
	Conditions []Condition
}

func (c *AnySatisfied) Satisfied(e Engine) bool {
	for _, child := range c.Conditions {
		if child.Satisfied(e) {
			return true
		}
	}
	return false
}

// ExprCondition evaluates a boolean expression over the engine's job
// counters. Available variables: created, pending, running, done, failed,
// cancelled and jobs (total registered).
//
//	cond := &job.ExprCondition{Expr: "running < 4 && pending <= 10"}
type ExprCondition struct {
	Expr string

	once     sync.Once
	compiled *govaluate.EvaluableExpression
	compile  error
}

func (c *ExprCondition) Satisfied(e Engine) bool {
	c.once.Do(func() {
		c.compiled, c.compile = govaluate.NewEvaluableExpression(c.Expr)
	})
	if c.compile != nil {
		zap.S().Named("job").Warnw("invalid condition expression", "expr", c.Expr, "error", c.compile)
		return false
	}

	counts := e.Counts()
	total := 0
	params := make(map[string]any, len(counts)+1)
	for status, n := range counts {
		params[string(status)] = n
		total += n
	}
	for _, status := range []Status{StatusCreated, StatusPending, StatusRunning, StatusDone, StatusFailed, StatusCancelled} {
		if _, ok := params[string(status)]; !ok {
			params[string(status)] = 0
		}
	}
	params["jobs"] = total

	result, err := c.compiled.Evaluate(params)
	if err != nil {
		zap.S().Named("job").Warnw("condition expression evaluation failed", "expr", c.Expr, "error", err)
		return false
	}
	satisfied, ok := result.(bool)
	return ok && satisfied
}
