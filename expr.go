package docq

import (
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/query/expr"
)

// Expression is anything usable as an operator argument: an Expr or a Seq.
type Expression interface {
	node() *expr.Expr
}

// Expr is a query expression over the members of the queried type.
type Expr struct {
	n *expr.Expr
}

func (x Expr) node() *expr.Expr { return x.n }

// String renders the expression.
func (x Expr) String() string { return x.n.String() }

// Field accesses a member by Go name. Dotted names and multiple segments
// descend into embedded values: Field("Address.City") == Field("Address", "City").
func Field(path ...string) Expr {
	var segs []string
	for _, p := range path {
		segs = append(segs, strings.Split(p, ".")...)
	}
	return Expr{expr.Member(segs...)}
}

// Value is a constant.
func Value(v any) Expr { return Expr{expr.Constant(v)} }

// Param is a named execution parameter, bound with Query.WithParam.
func Param(name string) Expr { return Expr{expr.Parameter(name)} }

// Closure is a value captured at execution time, not at query construction.
func Closure(fn func() any) Expr { return Expr{expr.Lambda(fn)} }

func lift(v any) *expr.Expr {
	switch x := v.(type) {
	case Expression:
		return x.node()
	case *expr.Expr:
		return x
	default:
		return expr.Constant(v)
	}
}

func (x Expr) compare(op filter.Op, v any) Expr {
	return Expr{expr.Compare(op, x.n, lift(v))}
}

// Eq is x == v.
func (x Expr) Eq(v any) Expr { return x.compare(filter.Eq, v) }

// Ne is x != v.
func (x Expr) Ne(v any) Expr { return x.compare(filter.Ne, v) }

// Lt is x < v.
func (x Expr) Lt(v any) Expr { return x.compare(filter.Lt, v) }

// Lte is x <= v.
func (x Expr) Lte(v any) Expr { return x.compare(filter.Lte, v) }

// Gt is x > v.
func (x Expr) Gt(v any) Expr { return x.compare(filter.Gt, v) }

// Gte is x >= v.
func (x Expr) Gte(v any) Expr { return x.compare(filter.Gte, v) }

// In matches when x equals one of the elements of values.
func (x Expr) In(values any) Expr { return Expr{expr.Call("Contains", lift(values), x.n)} }

// NotIn matches when x equals none of the elements of values.
func (x Expr) NotIn(values any) Expr { return x.compare(filter.NotIn, values) }

// Contains matches when the list member x holds v.
func (x Expr) Contains(v any) Expr { return Expr{expr.Call("Contains", x.n, lift(v))} }

// ContainsAny matches when the list member x holds any element of values.
func (x Expr) ContainsAny(values any) Expr { return Expr{expr.Call("ContainsAny", x.n, lift(values))} }

// Plus is x + v. Arithmetic folds when both sides are known at execution
// time; arithmetic over members can only be evaluated client-side.
func (x Expr) Plus(v any) Expr { return Expr{expr.Arithmetic(expr.Add, x.n, lift(v))} }

// Minus is x - v.
func (x Expr) Minus(v any) Expr { return Expr{expr.Arithmetic(expr.Sub, x.n, lift(v))} }

// Times is x * v.
func (x Expr) Times(v any) Expr { return Expr{expr.Arithmetic(expr.Mul, x.n, lift(v))} }

// Div is x / v.
func (x Expr) Div(v any) Expr { return Expr{expr.Arithmetic(expr.Div, x.n, lift(v))} }

// As converts x to T.
func As[T any](x Expr) Expr { return Expr{expr.Convert(x.n, reflect.TypeFor[T]())} }

// And is the conjunction of xs.
func And(xs ...Expr) Expr { return Expr{expr.AndAlso(nodes(xs)...)} }

// Or is the disjunction of xs.
func Or(xs ...Expr) Expr { return Expr{expr.OrElse(nodes(xs)...)} }

// Condition builds the comparison of field against v from a textual
// operator: ==, !=, <, <=, >, >=, in, not-in, array-contains or
// array-contains-any.
func Condition(field, op string, v any) (Expr, error) {
	x := Field(field)
	switch o := filter.Op(op); o {
	case filter.In:
		return x.In(v), nil
	case filter.ArrayContains:
		return x.Contains(v), nil
	case filter.ArrayContainsAny:
		return x.ContainsAny(v), nil
	default:
		if !o.Valid() {
			return Expr{}, domain.Unsupported(op, "comparison operator")
		}
		return x.compare(o, v), nil
	}
}

func nodes(xs []Expr) []*expr.Expr {
	out := make([]*expr.Expr, len(xs))
	for i, x := range xs {
		out[i] = x.n
	}
	return out
}

// Binding names one member of a projected shape.
type Binding struct {
	b expr.Binding
}

// Bind maps name to v in a projection.
func Bind(name string, v Expression) Binding {
	return Binding{expr.Bind(name, v.node())}
}

// Shape projects into an anonymous shape, materialized as map[string]any.
// Dotted names nest.
func Shape(bindings ...Binding) Expr {
	return Expr{expr.New(nil, bindingList(bindings)...)}
}

// Record projects into the struct type P, matching bindings to its fields
// by name.
func Record[P any](bindings ...Binding) Expr {
	return Expr{expr.New(reflect.TypeFor[P](), bindingList(bindings)...)}
}

func bindingList(bs []Binding) []expr.Binding {
	out := make([]expr.Binding, len(bs))
	for i, b := range bs {
		out[i] = b.b
	}
	return out
}

// Seq is a child-collection sequence with optional query operators, used
// in projections and includes.
type Seq struct {
	n *expr.Expr
}

func (s Seq) node() *expr.Expr { return s.n }

// String renders the sequence.
func (s Seq) String() string { return s.n.String() }

// Collection starts a sequence over the child collection navigation name.
func Collection(name string) Seq {
	return Seq{expr.Sequence(strings.Split(name, ".")...)}
}

func (s Seq) with(kind expr.StepKind, arg *expr.Expr) Seq {
	return Seq{s.n.With(kind, arg)}
}

// Where filters the sequence.
func (s Seq) Where(pred Expr) Seq { return s.with(expr.StepWhere, pred.n) }

// OrderBy orders the sequence ascending by key.
func (s Seq) OrderBy(key Expr) Seq { return s.with(expr.StepOrderBy, key.n) }

// OrderByDesc orders the sequence descending by key.
func (s Seq) OrderByDesc(key Expr) Seq { return s.with(expr.StepOrderByDesc, key.n) }

// ThenBy adds an ascending ordering key.
func (s Seq) ThenBy(key Expr) Seq { return s.with(expr.StepThenBy, key.n) }

// ThenByDesc adds a descending ordering key.
func (s Seq) ThenByDesc(key Expr) Seq { return s.with(expr.StepThenByDesc, key.n) }

// Skip drops the first n elements.
func (s Seq) Skip(n int) Seq { return s.with(expr.StepSkip, expr.Constant(int64(n))) }

// Take keeps the first n elements.
func (s Seq) Take(n int) Seq { return s.with(expr.StepTake, expr.Constant(int64(n))) }

// Select projects every element.
func (s Seq) Select(shape Expr) Seq { return s.with(expr.StepSelect, shape.n) }

// Count reduces the sequence to its length.
func (s Seq) Count() Seq { return s.with(expr.StepCount, nil) }

// Sum reduces the sequence to the sum of sel.
func (s Seq) Sum(sel Expr) Seq { return s.with(expr.StepSum, sel.n) }

// Average reduces the sequence to the mean of sel.
func (s Seq) Average(sel Expr) Seq { return s.with(expr.StepAverage, sel.n) }

// Min reduces the sequence to the smallest sel.
func (s Seq) Min(sel Expr) Seq { return s.with(expr.StepMin, sel.n) }

// Max reduces the sequence to the largest sel.
func (s Seq) Max(sel Expr) Seq { return s.with(expr.StepMax, sel.n) }
