package eval

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/expr"
	"github.com/roach88/facet/internal/value"
)

// EvaluationResult is the outcome of evaluating one expression.
//
// Accessed and AccessedEntities hold the realized dependency set: every
// property and entity actually dereferenced during the walk, recorded
// whether or not evaluation succeeded. Short-circuited branches leave no
// trace here, which is what keeps the recorded dependencies minimal.
type EvaluationResult struct {
	Success          bool
	Value            value.Value
	Err              *EvalError
	Accessed         []entity.Dep
	AccessedEntities []string
	Duration         time.Duration
}

// Evaluator walks parsed expressions against an assembled context.
//
// The evaluator performs no storage I/O of its own: reference resolution
// goes through the Context, and the builder supplies child contexts when a
// referenced entity's own computed property needs recursive evaluation.
type Evaluator struct {
	builder *ContextBuilder
}

// NewEvaluator creates an evaluator using the given context builder for
// recursive cross-entity evaluation.
func NewEvaluator(builder *ContextBuilder) *Evaluator {
	return &Evaluator{builder: builder}
}

// Evaluate computes an expression against a context.
// The context.Context bounds the evaluation: a deadline exceeded mid-walk
// surfaces as EVALUATION_TIMEOUT, never a hang.
func (ev *Evaluator) Evaluate(ctx context.Context, ast expr.Node, ec *Context) EvaluationResult {
	st := newEvalState(ctx)
	start := time.Now()
	v, err := ev.eval(st, ec, ast)
	return ev.finish(st, start, v, err)
}

// EvaluateComputed computes one computed property of the context's self
// entity. Unlike Evaluate, the property itself is pushed onto the
// in-flight set first, so self-referential expressions are reported as
// cycles instead of recursing forever.
func (ev *Evaluator) EvaluateComputed(ctx context.Context, ec *Context, name string, comp entity.Computed) EvaluationResult {
	ast, perr := expr.Parse(comp.Expression)
	if perr != nil {
		st := newEvalState(ctx)
		return ev.finish(st, time.Now(), nil, evalErrorf(ErrCodeParse, "%v", perr))
	}
	return ev.evaluateComputedAST(ctx, ec, name, ast)
}

func (ev *Evaluator) evaluateComputedAST(ctx context.Context, ec *Context, name string, ast expr.Node) EvaluationResult {
	st := newEvalState(ctx)
	start := time.Now()

	key := entity.Dep{EntityID: ec.self.ID, Property: name}
	st.push(key)
	v, err := ev.eval(st, ec, ast)
	st.pop()
	return ev.finish(st, start, v, err)
}

func (ev *Evaluator) finish(st *evalState, start time.Time, v value.Value, err *EvalError) EvaluationResult {
	res := EvaluationResult{
		Success:          err == nil,
		Value:            v,
		Err:              err,
		Accessed:         st.rec.deps,
		AccessedEntities: st.rec.entities,
		Duration:         time.Since(start),
	}
	return res
}

// evalState carries the per-evaluation bookkeeping: the bounding context,
// the access recorder, and the in-flight property stack for cycle
// detection. The in-flight set is keyed by entity AND property, so a cycle
// spanning entities (A.x -> B.y -> A.x) is caught exactly like a
// same-entity one. It exists only for this call stack - never persisted,
// never shared.
type evalState struct {
	ctx      context.Context
	rec      *recorder
	inflight map[entity.Dep]bool
	stack    []entity.Dep
}

func newEvalState(ctx context.Context) *evalState {
	return &evalState{
		ctx:      ctx,
		rec:      newRecorder(),
		inflight: map[entity.Dep]bool{},
	}
}

func (st *evalState) push(key entity.Dep) {
	st.inflight[key] = true
	st.stack = append(st.stack, key)
}

func (st *evalState) pop() {
	last := st.stack[len(st.stack)-1]
	delete(st.inflight, last)
	st.stack = st.stack[:len(st.stack)-1]
}

// cycleFrom returns the in-flight members from the first occurrence of key
// onward - the actual cycle, excluding any acyclic prefix of the stack.
func (st *evalState) cycleFrom(key entity.Dep) []entity.Dep {
	for i, k := range st.stack {
		if k == key {
			members := make([]entity.Dep, len(st.stack)-i)
			copy(members, st.stack[i:])
			return members
		}
	}
	return []entity.Dep{key}
}

// check enforces the wall-clock budget between node visits.
func (st *evalState) check() *EvalError {
	select {
	case <-st.ctx.Done():
		if errors.Is(st.ctx.Err(), context.DeadlineExceeded) {
			return evalErrorf(ErrCodeTimeout, "evaluation exceeded its time budget")
		}
		return evalErrorf(ErrCodeTimeout, "evaluation cancelled: %v", st.ctx.Err())
	default:
		return nil
	}
}

// recorder accumulates the realized dependency set in first-access order,
// de-duplicated.
type recorder struct {
	seenDep  map[entity.Dep]bool
	deps     []entity.Dep
	seenEnt  map[string]bool
	entities []string
}

func newRecorder() *recorder {
	return &recorder{
		seenDep: map[entity.Dep]bool{},
		seenEnt: map[string]bool{},
	}
}

func (r *recorder) recordProp(entityID, name string) {
	dep := entity.Dep{EntityID: entityID, Property: name}
	if !r.seenDep[dep] {
		r.seenDep[dep] = true
		r.deps = append(r.deps, dep)
	}
	r.recordEntity(entityID)
}

func (r *recorder) recordEntity(entityID string) {
	if !r.seenEnt[entityID] {
		r.seenEnt[entityID] = true
		r.entities = append(r.entities, entityID)
	}
}

func (ev *Evaluator) eval(st *evalState, ec *Context, n expr.Node) (value.Value, *EvalError) {
	if err := st.check(); err != nil {
		return nil, err
	}

	switch node := n.(type) {
	case expr.NumberLit:
		return value.Num(node.Val), nil
	case expr.StringLit:
		return value.Text(node.Val), nil
	case expr.BoolLit:
		return value.Boolean(node.Val), nil

	case expr.SelfRef:
		return ev.readProperty(st, ec, ec.self, node.Name)

	case expr.CrossRef:
		refVal, err := ev.eval(st, ec, node.Ref)
		if err != nil {
			return nil, err
		}
		ref, ok := refVal.(value.Reference)
		if !ok {
			return nil, evalErrorf(ErrCodeTypeMismatch, "@{...} requires a reference, got %s", refVal.Kind())
		}
		target, ferr := ec.Entity(st.ctx, string(ref))
		st.rec.recordEntity(string(ref))
		if ferr != nil {
			return nil, evalErrorf(ErrCodeBrokenReference, "entity %s does not exist", ref)
		}
		return ev.readProperty(st, ec, target, node.Name)

	case expr.RelRef:
		coll, ferr := ec.Related(st.ctx, node.Rel)
		if ferr != nil {
			return nil, evalErrorf(ErrCodeBrokenReference, "relationship %q: %v", node.Rel, ferr)
		}
		return ev.projectRelated(st, ec, coll, node)

	case expr.Unary:
		x, err := ev.eval(st, ec, node.X)
		if err != nil {
			return nil, err
		}
		num, ok := x.(value.Number)
		if !ok {
			return nil, evalErrorf(ErrCodeTypeMismatch, "unary '-' requires a number, got %s", x.Kind())
		}
		return value.Number{Val: -num.Val, Unit: num.Unit}, nil

	case expr.Binary:
		return ev.evalBinary(st, ec, node)

	case expr.Call:
		return ev.evalCall(st, ec, node)

	default:
		return nil, evalErrorf(ErrCodeTypeMismatch, "unsupported expression node %T", n)
	}
}

// readProperty dereferences a property on an entity, resolving inherited
// chains and recursively evaluating referenced computed properties.
// Every dereference is recorded before the outcome is known.
func (ev *Evaluator) readProperty(st *evalState, ec *Context, ent *entity.Entity, name string) (value.Value, *EvalError) {
	st.rec.recordProp(ent.ID, name)

	p, ok := ent.Properties[name]
	if !ok {
		return nil, evalErrorf(ErrCodeBrokenReference, "property %q does not exist on entity %s", name, ent.ID)
	}

	switch prop := p.(type) {
	case entity.Literal:
		return prop.Value, nil

	case entity.Inherited:
		if prop.Override != nil {
			return prop.Override, nil
		}
		source, ferr := ec.Entity(st.ctx, prop.SourceEntity)
		st.rec.recordEntity(prop.SourceEntity)
		if ferr != nil {
			return nil, evalErrorf(ErrCodeBrokenReference, "inherited source entity %s does not exist", prop.SourceEntity)
		}
		return ev.readProperty(st, ec, source, prop.SourceProperty)

	case entity.Measured:
		return prop.Value, nil

	case entity.Computed:
		if prop.Status == entity.StatusValid {
			return prop.CachedValue, nil
		}
		return ev.evalNestedComputed(st, ec, ent, name, prop)

	default:
		return nil, evalErrorf(ErrCodeTypeMismatch, "unknown property variant %T", p)
	}
}

// evalNestedComputed evaluates a referenced computed property that has no
// current cached value. Re-entry of an in-flight property is the cycle
// case; everything discovered from the re-entered key onward is reported
// as one batch.
func (ev *Evaluator) evalNestedComputed(st *evalState, ec *Context, ent *entity.Entity, name string, comp entity.Computed) (value.Value, *EvalError) {
	key := entity.Dep{EntityID: ent.ID, Property: name}
	if st.inflight[key] {
		return nil, circularError(st.cycleFrom(key))
	}

	ast, perr := expr.Parse(comp.Expression)
	if perr != nil {
		return nil, evalErrorf(ErrCodeParse, "referenced property %s has a malformed expression: %v", key, perr)
	}

	// A property on another entity evaluates in that entity's own context
	// so its relationship projections resolve against the right root.
	target := ec
	if ent.ID != ec.self.ID {
		built, err := ev.builder.BuildForProperty(st.ctx, ent, ast)
		if err != nil {
			return nil, evalErrorf(ErrCodeBrokenReference, "context for entity %s: %v", ent.ID, err)
		}
		target = built
	}

	st.push(key)
	defer st.pop()
	return ev.eval(st, target, ast)
}

// projectRelated evaluates a relationship projection into a List.
// All projected values must share one kind; an empty collection yields an
// empty numeric list (COUNT ignores the element kind and SUM of nothing
// is zero).
func (ev *Evaluator) projectRelated(st *evalState, ec *Context, coll []*entity.Entity, node expr.RelRef) (value.Value, *EvalError) {
	items := make([]value.Value, 0, len(coll))
	elem := value.KindNumber
	for i, related := range coll {
		st.rec.recordEntity(related.ID)
		v, err := ev.readProperty(st, ec, related, node.Name)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			elem = v.Kind()
		} else if v.Kind() != elem {
			return nil, evalErrorf(ErrCodeTypeMismatch,
				"relationship %q projects mixed kinds: %s and %s", node.Rel, elem, v.Kind())
		}
		items = append(items, v)
	}
	return value.List{Elem: elem, Items: items}, nil
}

func (ev *Evaluator) evalBinary(st *evalState, ec *Context, node expr.Binary) (value.Value, *EvalError) {
	x, err := ev.eval(st, ec, node.X)
	if err != nil {
		return nil, err
	}
	y, err := ev.eval(st, ec, node.Y)
	if err != nil {
		return nil, err
	}

	switch node.Op {
	case expr.OpAdd, expr.OpSub, expr.OpMul, expr.OpDiv:
		return arith(node.Op, x, y)
	case expr.OpEq:
		eq, err := equalValues(x, y)
		if err != nil {
			return nil, err
		}
		return value.Boolean(eq), nil
	case expr.OpNe:
		eq, err := equalValues(x, y)
		if err != nil {
			return nil, err
		}
		return value.Boolean(!eq), nil
	case expr.OpLt, expr.OpLe, expr.OpGt, expr.OpGe:
		return order(node.Op, x, y)
	default:
		return nil, evalErrorf(ErrCodeTypeMismatch, "unknown operator %q", node.Op)
	}
}

// arith applies an arithmetic operator. Both operands must be numbers -
// there is no coercion - and division by zero is a defined failure rather
// than Inf/NaN propagation.
func arith(op expr.Op, x, y value.Value) (value.Value, *EvalError) {
	xn, xok := x.(value.Number)
	yn, yok := y.(value.Number)
	if !xok || !yok {
		return nil, evalErrorf(ErrCodeTypeMismatch,
			"cannot apply '%s' to %s and %s", op, x.Kind(), y.Kind())
	}

	unit, uerr := combineUnits(op, xn.Unit, yn.Unit)
	if uerr != nil {
		return nil, uerr
	}

	switch op {
	case expr.OpAdd:
		return value.Number{Val: xn.Val + yn.Val, Unit: unit}, nil
	case expr.OpSub:
		return value.Number{Val: xn.Val - yn.Val, Unit: unit}, nil
	case expr.OpMul:
		return value.Number{Val: xn.Val * yn.Val, Unit: unit}, nil
	case expr.OpDiv:
		if yn.Val == 0 {
			return nil, evalErrorf(ErrCodeDivisionByZero, "division by zero")
		}
		return value.Number{Val: xn.Val / yn.Val, Unit: unit}, nil
	default:
		return nil, evalErrorf(ErrCodeTypeMismatch, "unknown arithmetic operator %q", op)
	}
}

// combineUnits derives the unit annotation of an arithmetic result.
// Units are annotations, not dimensional analysis: addition requires
// agreement, multiplication of two annotated numbers drops the annotation,
// and dividing like by like yields a plain ratio.
func combineUnits(op expr.Op, xu, yu string) (string, *EvalError) {
	switch op {
	case expr.OpAdd, expr.OpSub:
		if xu != "" && yu != "" && xu != yu {
			return "", evalErrorf(ErrCodeTypeMismatch, "unit mismatch: %q vs %q", xu, yu)
		}
		if xu != "" {
			return xu, nil
		}
		return yu, nil
	case expr.OpMul:
		if xu == "" {
			return yu, nil
		}
		if yu == "" {
			return xu, nil
		}
		return "", nil
	case expr.OpDiv:
		if xu == yu {
			return "", nil
		}
		if yu == "" {
			return xu, nil
		}
		return "", nil
	default:
		return "", nil
	}
}

// equalValues implements == / != over same-kind operands.
func equalValues(x, y value.Value) (bool, *EvalError) {
	if x.Kind() != y.Kind() {
		return false, evalErrorf(ErrCodeTypeMismatch,
			"cannot compare %s and %s", x.Kind(), y.Kind())
	}
	return value.Equal(x, y), nil
}

// order implements the relational operators over numbers, text, and
// datetimes. Datetimes in RFC 3339 UTC order correctly as strings.
func order(op expr.Op, x, y value.Value) (value.Value, *EvalError) {
	if x.Kind() != y.Kind() {
		return nil, evalErrorf(ErrCodeTypeMismatch,
			"cannot compare %s and %s", x.Kind(), y.Kind())
	}

	var cmp int
	switch xv := x.(type) {
	case value.Number:
		yv := y.(value.Number)
		if xv.Unit != "" && yv.Unit != "" && xv.Unit != yv.Unit {
			return nil, evalErrorf(ErrCodeTypeMismatch, "unit mismatch: %q vs %q", xv.Unit, yv.Unit)
		}
		switch {
		case xv.Val < yv.Val:
			cmp = -1
		case xv.Val > yv.Val:
			cmp = 1
		}
	case value.Text:
		cmp = strings.Compare(string(xv), string(y.(value.Text)))
	case value.Datetime:
		cmp = strings.Compare(string(xv), string(y.(value.Datetime)))
	default:
		return nil, evalErrorf(ErrCodeTypeMismatch, "%s values are not ordered", x.Kind())
	}

	switch op {
	case expr.OpLt:
		return value.Boolean(cmp < 0), nil
	case expr.OpLe:
		return value.Boolean(cmp <= 0), nil
	case expr.OpGt:
		return value.Boolean(cmp > 0), nil
	default:
		return value.Boolean(cmp >= 0), nil
	}
}

func (ev *Evaluator) evalCall(st *evalState, ec *Context, node expr.Call) (value.Value, *EvalError) {
	switch node.Fn {
	case expr.BuiltinIf:
		return ev.evalIf(st, ec, node)
	case expr.BuiltinConcat:
		return ev.evalConcat(st, ec, node)
	case expr.BuiltinCount, expr.BuiltinSum, expr.BuiltinAvg, expr.BuiltinMin, expr.BuiltinMax:
		return ev.evalAggregate(st, ec, node)
	case expr.BuiltinRound, expr.BuiltinAbs:
		return ev.evalNumeric1(st, ec, node)
	case expr.BuiltinUpper, expr.BuiltinLower:
		return ev.evalText1(st, ec, node)
	default:
		// Unreachable: the parser rejects unknown builtins.
		return nil, evalErrorf(ErrCodeTypeMismatch, "unknown builtin %q", node.Fn)
	}
}

// evalIf short-circuits: the untaken branch is never walked, so its
// references do not enter the realized dependency set.
func (ev *Evaluator) evalIf(st *evalState, ec *Context, node expr.Call) (value.Value, *EvalError) {
	cond, err := ev.eval(st, ec, node.Args[0])
	if err != nil {
		return nil, err
	}
	b, ok := cond.(value.Boolean)
	if !ok {
		return nil, evalErrorf(ErrCodeTypeMismatch, "IF condition must be boolean, got %s", cond.Kind())
	}
	if bool(b) {
		return ev.eval(st, ec, node.Args[1])
	}
	return ev.eval(st, ec, node.Args[2])
}

func (ev *Evaluator) evalConcat(st *evalState, ec *Context, node expr.Call) (value.Value, *EvalError) {
	var b strings.Builder
	for _, arg := range node.Args {
		v, err := ev.eval(st, ec, arg)
		if err != nil {
			return nil, err
		}
		switch v.Kind() {
		case value.KindText, value.KindNumber, value.KindBoolean:
			b.WriteString(value.Format(v))
		default:
			return nil, evalErrorf(ErrCodeTypeMismatch, "CONCAT cannot stringify %s", v.Kind())
		}
	}
	return value.Text(b.String()), nil
}

func (ev *Evaluator) evalAggregate(st *evalState, ec *Context, node expr.Call) (value.Value, *EvalError) {
	v, err := ev.eval(st, ec, node.Args[0])
	if err != nil {
		return nil, err
	}
	list, ok := v.(value.List)
	if !ok {
		return nil, evalErrorf(ErrCodeTypeMismatch, "%s requires a list, got %s", node.Fn, v.Kind())
	}

	if node.Fn == expr.BuiltinCount {
		return value.Num(float64(len(list.Items))), nil
	}

	if len(list.Items) == 0 {
		if node.Fn == expr.BuiltinSum {
			return value.Num(0), nil
		}
		return nil, &EvalError{Code: ErrCodeEmptyAggregate,
			Message: string(node.Fn) + " over an empty list"}
	}

	nums := make([]value.Number, len(list.Items))
	unit := ""
	for i, item := range list.Items {
		num, ok := item.(value.Number)
		if !ok {
			return nil, evalErrorf(ErrCodeTypeMismatch,
				"%s requires numeric elements, got %s", node.Fn, item.Kind())
		}
		if i == 0 {
			unit = num.Unit
		} else if num.Unit != unit {
			return nil, evalErrorf(ErrCodeTypeMismatch,
				"%s over mixed units: %q vs %q", node.Fn, unit, num.Unit)
		}
		nums[i] = num
	}

	switch node.Fn {
	case expr.BuiltinSum:
		total := 0.0
		for _, n := range nums {
			total += n.Val
		}
		return value.Number{Val: total, Unit: unit}, nil
	case expr.BuiltinAvg:
		total := 0.0
		for _, n := range nums {
			total += n.Val
		}
		return value.Number{Val: total / float64(len(nums)), Unit: unit}, nil
	case expr.BuiltinMin:
		best := nums[0].Val
		for _, n := range nums[1:] {
			best = math.Min(best, n.Val)
		}
		return value.Number{Val: best, Unit: unit}, nil
	default: // MAX
		best := nums[0].Val
		for _, n := range nums[1:] {
			best = math.Max(best, n.Val)
		}
		return value.Number{Val: best, Unit: unit}, nil
	}
}

func (ev *Evaluator) evalNumeric1(st *evalState, ec *Context, node expr.Call) (value.Value, *EvalError) {
	v, err := ev.eval(st, ec, node.Args[0])
	if err != nil {
		return nil, err
	}
	num, ok := v.(value.Number)
	if !ok {
		return nil, evalErrorf(ErrCodeTypeMismatch, "%s requires a number, got %s", node.Fn, v.Kind())
	}
	switch node.Fn {
	case expr.BuiltinRound:
		return value.Number{Val: math.Round(num.Val), Unit: num.Unit}, nil
	default: // ABS
		return value.Number{Val: math.Abs(num.Val), Unit: num.Unit}, nil
	}
}

func (ev *Evaluator) evalText1(st *evalState, ec *Context, node expr.Call) (value.Value, *EvalError) {
	v, err := ev.eval(st, ec, node.Args[0])
	if err != nil {
		return nil, err
	}
	txt, ok := v.(value.Text)
	if !ok {
		return nil, evalErrorf(ErrCodeTypeMismatch, "%s requires text, got %s", node.Fn, v.Kind())
	}
	if node.Fn == expr.BuiltinUpper {
		return value.Text(strings.ToUpper(string(txt))), nil
	}
	return value.Text(strings.ToLower(string(txt))), nil
}
