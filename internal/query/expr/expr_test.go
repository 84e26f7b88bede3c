package expr

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
)

func TestFold(t *testing.T) {
	tests := []struct {
		name     string
		in       *Expr
		constant bool
		want     any
	}{
		{"constant add", Arithmetic(Add, Constant(2), Constant(3)), true, int64(5)},
		{"nested", Arithmetic(Mul, Arithmetic(Add, Constant(1), Constant(1)), Constant(4)), true, int64(8)},
		{"convert", Convert(Constant(int64(7)), reflect.TypeFor[int32]()), true, int32(7)},
		{"float", Arithmetic(Div, Constant(1.0), Constant(4)), true, 0.25},
		{"parameter stays", Arithmetic(Add, Parameter("n"), Constant(1)), false, nil},
		{"lambda stays", Arithmetic(Add, Lambda(func() any { return 1 }), Constant(1)), false, nil},
		{"member stays", Arithmetic(Add, Member("Age"), Constant(1)), false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fold(tt.in)
			if (got.Kind == KindConstant) != tt.constant {
				t.Fatalf("Fold(%s) kind = %s", tt.in, got.Kind)
			}
			if tt.constant && !reflect.DeepEqual(got.Value, tt.want) {
				t.Errorf("Fold(%s) = %#v, want %#v", tt.in, got.Value, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	e := Arithmetic(Add, Parameter("skip"), Lambda(func() any { return 10 }))
	got, err := Resolve(e, map[string]any{"skip": 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != int64(15) {
		t.Errorf("got %#v, want 15", got)
	}

	if _, err := Resolve(Parameter("missing"), nil); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Errorf("unbound parameter err = %v", err)
	}
	if _, err := Resolve(Member("Name"), nil); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Errorf("member err = %v", err)
	}
}

func TestIsDeferred(t *testing.T) {
	if IsDeferred(Constant(1)) {
		t.Error("constant is not deferred")
	}
	if !IsDeferred(Arithmetic(Add, Constant(1), Parameter("p"))) {
		t.Error("parameter is deferred")
	}
	if !HasMember(Compare(filter.Eq, Constant(1), Member("A"))) {
		t.Error("member not found")
	}
}

type person struct {
	Name    string
	Age     int
	Address *struct{ City string }
}

func TestEval_StructEnv(t *testing.T) {
	p := &person{Name: "ann", Age: 31, Address: &struct{ City string }{City: "Oslo"}}
	env := StructEnv{Value: reflect.ValueOf(p), Params: map[string]any{"min": 30}}

	tests := []struct {
		name string
		e    *Expr
		want any
	}{
		{"member", Member("Name"), "ann"},
		{"nested", Member("Address", "City"), "Oslo"},
		{"compare", Compare(filter.Gte, Member("Age"), Parameter("min")), true},
		{"and", AndAlso(
			Compare(filter.Eq, Member("Name"), Constant("ann")),
			Compare(filter.Lt, Member("Age"), Constant(30)),
		), false},
		{"or", OrElse(
			Compare(filter.Eq, Member("Name"), Constant("bob")),
			Compare(filter.Gt, Member("Age"), Constant(30)),
		), true},
		{"arith", Arithmetic(Mul, Member("Age"), Constant(2)), int64(62)},
		{"in", Compare(filter.In, Member("Age"), Constant([]int{30, 31})), true},
		{"contains", Call("Contains", Member("Name"), Constant("nn")), true},
		{"upper", Call("ToUpper", Member("Name")), "ANN"},
		{"shape", New(nil, Bind("N", Member("Name"))), map[string]any{"N": "ann"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.e, env)
			if err != nil {
				t.Fatalf("Eval(%s): %v", tt.e, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Eval(%s) = %#v, want %#v", tt.e, got, tt.want)
			}
		})
	}
}

func TestEval_Record(t *testing.T) {
	type summary struct {
		Name string
		Next int
	}
	p := &person{Name: "ann", Age: 31}
	env := StructEnv{Value: reflect.ValueOf(p)}
	got, err := Eval(New(reflect.TypeFor[summary](),
		Bind("Name", Member("Name")),
		Bind("Next", Arithmetic(Add, Member("Age"), Constant(1))),
	), env)
	if err != nil {
		t.Fatal(err)
	}
	if s := got.(summary); s.Name != "ann" || s.Next != 32 {
		t.Errorf("got %+v", s)
	}
}

func TestEval_SequenceUnsupported(t *testing.T) {
	_, err := Eval(Sequence("Orders").With(StepCount, nil), Params(nil))
	if !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestString(t *testing.T) {
	e := AndAlso(
		Compare(filter.Eq, Member("Name"), Constant("ann")),
		Compare(filter.Gt, Member("Age"), Parameter("min")),
	)
	want := `((x.Name == "ann") && (x.Age > @min))`
	if got := e.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	seq := Sequence("Orders").With(StepWhere, Compare(filter.Gt, Member("Total"), Constant(10))).With(StepCount, nil)
	if got := seq.String(); got != "x.Orders.Where((x.Total > 10)).Count()" {
		t.Errorf("sequence String() = %s", got)
	}
}
