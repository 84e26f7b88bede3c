package expr

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db/eval"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/model"
)

// Env supplies member and parameter values during evaluation.
type Env interface {
	Member(path []string) (any, error)
	Param(name string) (any, bool)
}

// Params is an Env with parameters only; member access fails.
type Params map[string]any

func (p Params) Member(path []string) (any, error) {
	return nil, fmt.Errorf("%w: member %s is not available here", domain.ErrInvalidPlan, strings.Join(path, "."))
}

func (p Params) Param(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

// Resolve evaluates a value expression against execution parameters.
func Resolve(e *Expr, params map[string]any) (any, error) {
	return Eval(e, Params(params))
}

// Fold pre-evaluates sub-trees built only from constants. Parameters and
// closures stay deferred.
func Fold(e *Expr) *Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case KindArithmetic, KindCompare:
		out := *e
		out.Left, out.Right = Fold(e.Left), Fold(e.Right)
		return foldIfConstant(&out, out.Left, out.Right)
	case KindConvert:
		out := *e
		out.Left = Fold(e.Left)
		return foldIfConstant(&out, out.Left)
	case KindLogical, KindCall:
		out := *e
		out.Operands = make([]*Expr, len(e.Operands))
		for i, o := range e.Operands {
			out.Operands[i] = Fold(o)
		}
		return foldIfConstant(&out, out.Operands...)
	case KindNew:
		out := *e
		out.Bindings = make([]Binding, len(e.Bindings))
		for i, b := range e.Bindings {
			out.Bindings[i] = Binding{Name: b.Name, Expr: Fold(b.Expr)}
		}
		return &out
	default:
		return e
	}
}

func foldIfConstant(e *Expr, children ...*Expr) *Expr {
	for _, c := range children {
		if c == nil || c.Kind != KindConstant {
			return e
		}
	}
	v, err := Eval(e, Params(nil))
	if err != nil {
		return e
	}
	return Constant(v)
}

// Eval evaluates e. Comparisons follow the store's value ordering.
func Eval(e *Expr, env Env) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil expression", domain.ErrInvalidPlan)
	}
	switch e.Kind {
	case KindMember:
		return env.Member(e.Path)
	case KindConstant:
		return e.Value, nil
	case KindParameter:
		v, ok := env.Param(e.Name)
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q is not bound", domain.ErrInvalidPlan, e.Name)
		}
		return v, nil
	case KindLambda:
		return e.Func(), nil
	case KindCompare:
		l, r, err := evalPair(e, env)
		if err != nil {
			return nil, err
		}
		return compare(e.Cmp, l, r)
	case KindLogical:
		return evalLogical(e, env)
	case KindArithmetic:
		l, r, err := evalPair(e, env)
		if err != nil {
			return nil, err
		}
		return arithmetic(e.Arith, l, r)
	case KindConvert:
		v, err := Eval(e.Left, env)
		if err != nil {
			return nil, err
		}
		return convert(v, e.Type)
	case KindCall:
		return evalCall(e, env)
	case KindNew:
		return evalNew(e, env)
	case KindSequence:
		return nil, domain.Unsupported(e.String(), "sequence evaluation outside the store")
	default:
		return nil, domain.Unsupported(e.Kind.String(), "unknown expression node")
	}
}

func evalPair(e *Expr, env Env) (any, any, error) {
	l, err := Eval(e.Left, env)
	if err != nil {
		return nil, nil, err
	}
	r, err := Eval(e.Right, env)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// native encodes a Go value for comparison, keeping values the default
// table cannot encode (unregistered enums) as their integer form.
func native(v any) any {
	n, err := codec.Default.Encode(v)
	if err == nil {
		return n
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint())
	default:
		return v
	}
}

func compare(op filter.Op, l, r any) (bool, error) {
	a, b := native(l), native(r)
	switch op {
	case filter.Eq:
		return eval.Equal(a, b), nil
	case filter.Ne:
		return !eval.Equal(a, b), nil
	case filter.Lt:
		return eval.Comparable(a, b) && eval.Compare(a, b) < 0, nil
	case filter.Lte:
		return eval.Comparable(a, b) && eval.Compare(a, b) <= 0, nil
	case filter.Gt:
		return eval.Comparable(a, b) && eval.Compare(a, b) > 0, nil
	case filter.Gte:
		return eval.Comparable(a, b) && eval.Compare(a, b) >= 0, nil
	case filter.In, filter.NotIn:
		list, _ := b.([]any)
		found := false
		for _, item := range list {
			if eval.Equal(a, item) {
				found = true
				break
			}
		}
		return found == (op == filter.In), nil
	default:
		return false, domain.Unsupported(string(op), "comparison operator")
	}
}

func evalLogical(e *Expr, env Env) (bool, error) {
	for _, o := range e.Operands {
		v, err := Eval(o, env)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("%w: logical operand %s is %T", domain.ErrInvalidPlan, o, v)
		}
		if e.Logic == And && !b {
			return false, nil
		}
		if e.Logic == Or && b {
			return true, nil
		}
	}
	return e.Logic == And, nil
}

func arithmetic(op ArithOp, l, r any) (any, error) {
	if ls, ok := l.(string); ok && op == Add {
		if rs, ok := r.(string); ok {
			return ls + rs, nil
		}
	}
	a, b := native(l), native(r)
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case Add:
			return ai + bi, nil
		case Sub:
			return ai - bi, nil
		case Mul:
			return ai * bi, nil
		case Div, Mod:
			if bi == 0 {
				return nil, fmt.Errorf("%w: division by zero", domain.ErrInvalidPlan)
			}
			if op == Div {
				return ai / bi, nil
			}
			return ai % bi, nil
		}
	}
	af, aok := codec.ToFloat64(a)
	bf, bok := codec.ToFloat64(b)
	if !aok || !bok {
		return nil, fmt.Errorf("%w: %T %s %T", domain.ErrInvalidPlan, l, op, r)
	}
	switch op {
	case Add:
		return af + bf, nil
	case Sub:
		return af - bf, nil
	case Mul:
		return af * bf, nil
	case Div:
		return af / bf, nil
	case Mod:
		return math.Mod(af, bf), nil
	default:
		return nil, domain.Unsupported(string(op), "arithmetic operator")
	}
}

func convert(v any, t reflect.Type) (any, error) {
	if t == nil || v == nil {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v, nil
	}
	// int -> string conversion yields a rune, not digits
	if rv.Type().ConvertibleTo(t) && !(isNumber(rv.Kind()) && t.Kind() == reflect.String) {
		return rv.Convert(t).Interface(), nil
	}
	out, err := codec.Default.Decode(native(v), t)
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func isNumber(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

func evalCall(e *Expr, env Env) (any, error) {
	args := make([]any, len(e.Operands))
	for i, o := range e.Operands {
		v, err := Eval(o, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	recv := args[0]
	switch e.Name {
	case "Contains":
		if len(args) != 2 {
			break
		}
		if s, ok := recv.(string); ok {
			sub, _ := args[1].(string)
			return strings.Contains(s, sub), nil
		}
		list, _ := native(recv).([]any)
		want := native(args[1])
		for _, item := range list {
			if eval.Equal(item, want) {
				return true, nil
			}
		}
		return false, nil
	case "StartsWith":
		if len(args) != 2 {
			break
		}
		s, _ := recv.(string)
		p, _ := args[1].(string)
		return strings.HasPrefix(s, p), nil
	case "ToUpper":
		s, _ := recv.(string)
		return strings.ToUpper(s), nil
	case "ToLower":
		s, _ := recv.(string)
		return strings.ToLower(s), nil
	case "Len":
		rv := reflect.ValueOf(recv)
		switch rv.Kind() {
		case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
			return int64(rv.Len()), nil
		}
	}
	return nil, domain.Unsupported(e.String(), "method call")
}

func evalNew(e *Expr, env Env) (any, error) {
	if e.Type == nil || e.Type.Kind() == reflect.Map {
		out := make(map[string]any, len(e.Bindings))
		for _, b := range e.Bindings {
			v, err := Eval(b.Expr, env)
			if err != nil {
				return nil, err
			}
			out[b.Name] = v
		}
		return out, nil
	}
	rv := reflect.New(e.Type).Elem()
	for _, b := range e.Bindings {
		v, err := Eval(b.Expr, env)
		if err != nil {
			return nil, err
		}
		f := rv.FieldByName(b.Name)
		if !f.IsValid() || !f.CanSet() {
			return nil, fmt.Errorf("%w: %s has no settable member %q", domain.ErrInvalidPlan, e.Type, b.Name)
		}
		cv, err := convert(v, f.Type())
		if err != nil {
			return nil, err
		}
		if cv != nil {
			f.Set(reflect.ValueOf(cv))
		}
	}
	return rv.Interface(), nil
}

// StructEnv evaluates member access against a Go value by field name.
type StructEnv struct {
	Value  reflect.Value
	Params map[string]any
}

func (s StructEnv) Param(name string) (any, bool) {
	v, ok := s.Params[name]
	return v, ok
}

func (s StructEnv) Member(path []string) (any, error) {
	cur := s.Value
	for _, seg := range path {
		for cur.Kind() == reflect.Pointer || cur.Kind() == reflect.Interface {
			if cur.IsNil() {
				return nil, nil
			}
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: cannot access %q on %s", domain.ErrInvalidPlan, seg, cur.Type())
		}
		if cur.CanAddr() {
			if rf, ok := cur.Addr().Interface().(model.RefField); ok {
				cur = reflect.ValueOf(rf.RefValue())
				if !cur.IsValid() {
					return nil, nil
				}
				cur = cur.Elem()
			}
		}
		f := cur.FieldByName(seg)
		if !f.IsValid() {
			return nil, fmt.Errorf("%w: %s has no member %q", domain.ErrInvalidPlan, cur.Type(), seg)
		}
		cur = f
	}
	if !cur.IsValid() {
		return nil, nil
	}
	return cur.Interface(), nil
}
