// Package expr is the closed set of expression nodes that query operators
// receive as arguments: member access, comparisons, boolean combinations,
// constants, parameters, closures, arithmetic, conversions, calls, shape
// construction and child-collection sequences.
package expr

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/domain/filter"
)

// Kind discriminates expression nodes.
type Kind int

const (
	KindMember Kind = iota
	KindConstant
	KindParameter
	KindLambda
	KindCompare
	KindLogical
	KindArithmetic
	KindConvert
	KindCall
	KindNew
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindMember:
		return "member"
	case KindConstant:
		return "constant"
	case KindParameter:
		return "parameter"
	case KindLambda:
		return "lambda"
	case KindCompare:
		return "compare"
	case KindLogical:
		return "logical"
	case KindArithmetic:
		return "arithmetic"
	case KindConvert:
		return "convert"
	case KindCall:
		return "call"
	case KindNew:
		return "new"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// LogicalOp combines boolean operands.
type LogicalOp int

const (
	And LogicalOp = iota
	Or
)

// ArithOp is a binary arithmetic operator.
type ArithOp string

const (
	Add ArithOp = "+"
	Sub ArithOp = "-"
	Mul ArithOp = "*"
	Div ArithOp = "/"
	Mod ArithOp = "%"
)

// Expr is a query expression node. Only the fields of its Kind are set.
type Expr struct {
	Kind Kind

	Path  []string     // member, sequence source
	Value any          // constant
	Name  string       // parameter name, call method
	Func  func() any   // lambda
	Cmp   filter.Op    // compare
	Logic LogicalOp    // logical
	Arith ArithOp      // arithmetic
	Type  reflect.Type // convert target, record type of new

	Left, Right *Expr   // compare, arithmetic; convert operand is Left
	Operands    []*Expr // logical operands, call receiver then arguments

	Bindings []Binding // new
	Steps    []Step    // sequence
}

// Binding names one member of a constructed shape.
type Binding struct {
	Name string
	Expr *Expr
}

// StepKind is an operator applied to a child-collection sequence.
type StepKind int

const (
	StepWhere StepKind = iota
	StepOrderBy
	StepOrderByDesc
	StepThenBy
	StepThenByDesc
	StepSkip
	StepTake
	StepSelect
	StepCount
	StepSum
	StepAverage
	StepMin
	StepMax
)

func (k StepKind) String() string {
	names := [...]string{"Where", "OrderBy", "OrderByDescending", "ThenBy", "ThenByDescending",
		"Skip", "Take", "Select", "Count", "Sum", "Average", "Min", "Max"}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Terminal reports whether the step reduces the sequence to a scalar.
func (k StepKind) Terminal() bool {
	return k >= StepCount
}

// Step is one sequence operator with its argument.
type Step struct {
	Kind StepKind
	Arg  *Expr
}

// Member accesses a field path on the current element. An empty path is the
// element itself.
func Member(path ...string) *Expr {
	return &Expr{Kind: KindMember, Path: path}
}

// Constant wraps a literal value.
func Constant(v any) *Expr {
	return &Expr{Kind: KindConstant, Value: v}
}

// Parameter is a named value supplied when the query executes.
func Parameter(name string) *Expr {
	return &Expr{Kind: KindParameter, Name: name}
}

// Lambda is a closure evaluated when the query executes.
func Lambda(fn func() any) *Expr {
	return &Expr{Kind: KindLambda, Func: fn}
}

// Compare builds a binary comparison.
func Compare(op filter.Op, left, right *Expr) *Expr {
	return &Expr{Kind: KindCompare, Cmp: op, Left: left, Right: right}
}

// AndAlso joins operands with logical AND.
func AndAlso(operands ...*Expr) *Expr {
	return &Expr{Kind: KindLogical, Logic: And, Operands: operands}
}

// OrElse joins operands with logical OR.
func OrElse(operands ...*Expr) *Expr {
	return &Expr{Kind: KindLogical, Logic: Or, Operands: operands}
}

// Arithmetic builds a binary arithmetic node.
func Arithmetic(op ArithOp, left, right *Expr) *Expr {
	return &Expr{Kind: KindArithmetic, Arith: op, Left: left, Right: right}
}

// Convert converts the operand to t.
func Convert(operand *Expr, t reflect.Type) *Expr {
	return &Expr{Kind: KindConvert, Left: operand, Type: t}
}

// Call invokes a named method on recv.
func Call(method string, recv *Expr, args ...*Expr) *Expr {
	return &Expr{Kind: KindCall, Name: method, Operands: append([]*Expr{recv}, args...)}
}

// New constructs a shape. A nil t is an anonymous shape.
func New(t reflect.Type, bindings ...Binding) *Expr {
	return &Expr{Kind: KindNew, Type: t, Bindings: bindings}
}

// Bind pairs a result name with an expression.
func Bind(name string, e *Expr) Binding {
	return Binding{Name: name, Expr: e}
}

// Sequence starts a child-collection sequence at the navigation path.
func Sequence(path ...string) *Expr {
	return &Expr{Kind: KindSequence, Path: path}
}

// With returns a copy of the sequence with one more step.
func (e *Expr) With(kind StepKind, arg *Expr) *Expr {
	out := *e
	out.Steps = append(append([]Step(nil), e.Steps...), Step{Kind: kind, Arg: arg})
	return &out
}

// IsIdentity reports whether e selects the element itself.
func (e *Expr) IsIdentity() bool {
	return e == nil || (e.Kind == KindMember && len(e.Path) == 0)
}

// Unwrap strips conversions around a member access.
func Unwrap(e *Expr) *Expr {
	for e != nil && e.Kind == KindConvert {
		e = e.Left
	}
	return e
}

// Walk calls fn for e and every descendant until fn returns false.
func Walk(e *Expr, fn func(*Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	Walk(e.Left, fn)
	Walk(e.Right, fn)
	for _, o := range e.Operands {
		Walk(o, fn)
	}
	for _, b := range e.Bindings {
		Walk(b.Expr, fn)
	}
	for _, s := range e.Steps {
		Walk(s.Arg, fn)
	}
}

// HasMember reports whether e reads from the current element.
func HasMember(e *Expr) bool {
	found := false
	Walk(e, func(n *Expr) bool {
		if n.Kind == KindMember || n.Kind == KindSequence {
			found = true
		}
		return !found
	})
	return found
}

// IsDeferred reports whether e depends on values known only at execution.
func IsDeferred(e *Expr) bool {
	found := false
	Walk(e, func(n *Expr) bool {
		if n.Kind == KindParameter || n.Kind == KindLambda {
			found = true
		}
		return !found
	})
	return found
}

func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindMember:
		if len(e.Path) == 0 {
			return "x"
		}
		return "x." + strings.Join(e.Path, ".")
	case KindConstant:
		if s, ok := e.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		return fmt.Sprintf("%v", e.Value)
	case KindParameter:
		return "@" + e.Name
	case KindLambda:
		return "closure()"
	case KindCompare:
		return fmt.Sprintf("(%s %s %s)", e.Left, e.Cmp, e.Right)
	case KindLogical:
		sep := " && "
		if e.Logic == Or {
			sep = " || "
		}
		parts := make([]string, len(e.Operands))
		for i, o := range e.Operands {
			parts[i] = o.String()
		}
		return "(" + strings.Join(parts, sep) + ")"
	case KindArithmetic:
		return fmt.Sprintf("(%s %s %s)", e.Left, e.Arith, e.Right)
	case KindConvert:
		return fmt.Sprintf("%s(%s)", e.Type, e.Left)
	case KindCall:
		args := make([]string, 0, len(e.Operands))
		for _, o := range e.Operands[1:] {
			args = append(args, o.String())
		}
		return fmt.Sprintf("%s.%s(%s)", e.Operands[0], e.Name, strings.Join(args, ", "))
	case KindNew:
		parts := make([]string, len(e.Bindings))
		for i, b := range e.Bindings {
			parts[i] = b.Name + " = " + b.Expr.String()
		}
		name := "new"
		if e.Type != nil {
			name = "new " + e.Type.String()
		}
		return name + " { " + strings.Join(parts, ", ") + " }"
	case KindSequence:
		var b strings.Builder
		b.WriteString("x." + strings.Join(e.Path, "."))
		for _, s := range e.Steps {
			arg := ""
			if s.Arg != nil {
				arg = s.Arg.String()
			}
			fmt.Fprintf(&b, ".%s(%s)", s.Kind, arg)
		}
		return b.String()
	default:
		return e.Kind.String()
	}
}
