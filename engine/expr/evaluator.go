package expr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
)

const defaultCostLimit = 1000

// Evaluator compiles and runs CEL predicates against case data documents.
// Compiled programs are cached because the same flow predicates are
// evaluated on every split of every case.
type Evaluator struct {
	env          *cel.Env
	costLimit    uint64
	programCache *ristretto.Cache[string, cel.Program]
}

type Option func(*Evaluator)

// WithCostLimit overrides the per-evaluation CEL cost budget.
func WithCostLimit(limit uint64) Option {
	return func(e *Evaluator) {
		e.costLimit = limit
	}
}

func NewEvaluator(opts ...Option) (*Evaluator, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating program cache: %w", err)
	}
	e := &Evaluator{
		env:          env,
		costLimit:    defaultCostLimit,
		programCache: cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs a boolean predicate with the document's top-level keys bound
// as CEL variables. Non-boolean results are an error; callers decide the
// false-on-error policy.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	vars := sortedKeys(data)
	prog, err := e.program(expression, vars)
	if err != nil {
		return false, err
	}
	out, _, err := prog.ContextEval(ctx, data)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q returned %T, want bool", expression, out.Value())
	}
	return result, nil
}

func (e *Evaluator) program(expression string, vars []string) (cel.Program, error) {
	cacheKey := expression + "\x00" + strings.Join(vars, ",")
	if prog, ok := e.programCache.Get(cacheKey); ok {
		return prog, nil
	}
	decls := make([]cel.EnvOption, 0, len(vars))
	for _, name := range vars {
		decls = append(decls, cel.Variable(name, cel.DynType))
	}
	env, err := e.env.Extend(decls...)
	if err != nil {
		return nil, fmt.Errorf("extending CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling %q: %w", expression, issues.Err())
	}
	prog, err := env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("building program for %q: %w", expression, err)
	}
	e.programCache.Set(cacheKey, prog, 1)
	return prog, nil
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
