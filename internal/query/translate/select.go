package translate

import (
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// Select narrows the result to a projection. Selecting the element itself,
// or converting it to another reference type, leaves the plan unchanged.
func (t *Translator) Select(p *plan.Plan, sel *expr.Expr, resultType reflect.Type) (*plan.Plan, error) {
	sel = expr.Fold(sel)
	if expr.Unwrap(sel).IsIdentity() {
		return p, nil
	}
	shape, err := t.shape(p.Entity, sel, resultType)
	if err != nil {
		return nil, err
	}
	return p.WithProjection(shape)
}

func (t *Translator) shape(e *model.Entity, sel *expr.Expr, resultType reflect.Type) (*plan.Shape, error) {
	inner := expr.Unwrap(sel)
	switch inner.Kind {
	case expr.KindMember, expr.KindSequence:
		s := &plan.Shape{Kind: plan.ShapeScalar, Type: resultType}
		if err := t.bindInto(s, e, "", expr.Bind(memberName(inner), sel)); err != nil {
			return nil, err
		}
		return s, nil
	case expr.KindNew:
		s := &plan.Shape{Kind: plan.ShapeAnonymous, Type: inner.Type}
		if inner.Type != nil && inner.Type.Kind() == reflect.Struct {
			s.Kind = plan.ShapeRecord
		}
		if s.Type == nil {
			s.Type = resultType
		}
		for _, b := range inner.Bindings {
			if err := t.bindInto(s, e, "", b); err != nil {
				return nil, err
			}
		}
		return s, nil
	case expr.KindArithmetic, expr.KindCall:
		return nil, domain.Unsupported(sel.String(), "computed values cannot be projected by the store")
	default:
		return nil, domain.Unsupported(sel.String(), "projection expression")
	}
}

func memberName(e *expr.Expr) string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[len(e.Path)-1]
}

func (t *Translator) bindInto(s *plan.Shape, e *model.Entity, prefix string, b expr.Binding) error {
	name := prefix + b.Name
	inner := expr.Unwrap(b.Expr)
	switch inner.Kind {
	case expr.KindMember:
		res, err := e.Resolve(inner.Path)
		if err != nil {
			return err
		}
		if res.Navigation != nil && res.Navigation.Many {
			s.Subcollections = append(s.Subcollections, &plan.Subcollection{
				Name:       name,
				Navigation: res.Navigation,
				Query:      plan.New(res.Navigation.Target, res.Navigation.Collection),
			})
			return nil
		}
		s.Fields = append(s.Fields, plan.ShapeField{Source: res.Path, Name: name, Type: res.Type, Field: res.Field})
		return nil
	case expr.KindNew:
		for _, nb := range inner.Bindings {
			if err := t.bindInto(s, e, name+".", nb); err != nil {
				return err
			}
		}
		return nil
	case expr.KindSequence:
		sub, err := t.subcollection(e, inner, name)
		if err != nil {
			return err
		}
		s.Subcollections = append(s.Subcollections, sub)
		return nil
	default:
		return domain.Unsupported(b.Expr.String(), "projection member "+strings.TrimSuffix(name, "."))
	}
}

// subcollection translates a child-collection sequence used inside a
// projection: filters, ordering, paging, an element projection and an
// optional terminal aggregate.
func (t *Translator) subcollection(e *model.Entity, seq *expr.Expr, name string) (*plan.Subcollection, error) {
	nav, err := manyNavigation(e, seq)
	if err != nil {
		return nil, err
	}
	sub := &plan.Subcollection{Name: name, Navigation: nav}
	q := plan.New(nav.Target, nav.Collection)
	for i, step := range seq.Steps {
		if step.Kind.Terminal() && i != len(seq.Steps)-1 {
			return nil, domain.Unsupported(seq.String(), step.Kind.String()+" must end the sequence")
		}
		switch step.Kind {
		case expr.StepSelect:
			if sub.Element != nil {
				return nil, domain.Unsupported(seq.String(), "more than one Select")
			}
			if expr.Unwrap(step.Arg).IsIdentity() {
				continue
			}
			shape, err := t.shape(nav.Target, step.Arg, nil)
			if err != nil {
				return nil, err
			}
			if err := shape.Validate(); err != nil {
				return nil, err
			}
			sub.Element = shape
		case expr.StepCount, expr.StepSum, expr.StepAverage, expr.StepMin, expr.StepMax:
			a := &plan.Aggregation{Kind: stepAggregate[step.Kind]}
			if a.Kind.NeedsField() {
				field, err := aggregateField(nav.Target, step.Arg)
				if err != nil {
					return nil, domain.Unsupported(seq.String(), "aggregate selector must be a stored member")
				}
				a.Field = field
			}
			if sub.Element != nil {
				return nil, domain.Unsupported(seq.String(), "aggregate over a projection")
			}
			sub.Aggregation = a
		default:
			q, err = t.sequenceStep(q, step)
			if err != nil {
				return nil, err
			}
		}
	}
	sub.Query = q
	return sub, nil
}

var stepAggregate = map[expr.StepKind]filter.Aggregate{
	expr.StepCount:   filter.Count,
	expr.StepSum:     filter.Sum,
	expr.StepAverage: filter.Average,
	expr.StepMin:     filter.Min,
	expr.StepMax:     filter.Max,
}

func (t *Translator) sequenceStep(q *plan.Plan, step expr.Step) (*plan.Plan, error) {
	switch step.Kind {
	case expr.StepWhere:
		return t.Filter(q, step.Arg)
	case expr.StepOrderBy:
		return t.Sort(q, step.Arg, false, true)
	case expr.StepOrderByDesc:
		return t.Sort(q, step.Arg, true, true)
	case expr.StepThenBy:
		return t.Sort(q, step.Arg, false, false)
	case expr.StepThenByDesc:
		return t.Sort(q, step.Arg, true, false)
	case expr.StepSkip:
		return t.Skip(q, step.Arg)
	case expr.StepTake:
		return t.Limit(q, step.Arg)
	default:
		return nil, domain.Unsupported(step.Kind.String(), "sequence operator")
	}
}

func manyNavigation(e *model.Entity, seq *expr.Expr) (*model.Navigation, error) {
	res, err := e.Resolve(seq.Path)
	if err != nil {
		return nil, err
	}
	if res.Navigation == nil || !res.Navigation.Many {
		return nil, domain.Unsupported(seq.String(), "sequence over a member that is not a child collection")
	}
	return res.Navigation, nil
}

// Include eagerly loads a navigation: a child collection, optionally
// narrowed by Where, ordering, Skip and Take, or a single reference.
func (t *Translator) Include(p *plan.Plan, nav *expr.Expr) (*plan.Plan, error) {
	inner := expr.Unwrap(nav)
	switch inner.Kind {
	case expr.KindMember:
		res, err := p.Entity.Resolve(inner.Path)
		if err != nil {
			return nil, err
		}
		if res.Navigation == nil {
			return nil, domain.Unsupported(nav.String(), "Include of a member that is not a navigation")
		}
		return p.WithInclude(include(res, nil))
	case expr.KindSequence:
		n, err := manyNavigation(p.Entity, inner)
		if err != nil {
			return nil, err
		}
		q := plan.New(n.Target, n.Collection)
		for _, step := range inner.Steps {
			if q, err = t.sequenceStep(q, step); err != nil {
				return nil, err
			}
		}
		return p.WithInclude(include(model.Resolved{Path: n.Collection, Navigation: n}, q))
	default:
		return nil, domain.Unsupported(nav.String(), "Include expression")
	}
}

// include describes loading the navigation res resolved to. A reference
// keeps its full stored path so that references inside embedded values
// are found.
func include(res model.Resolved, q *plan.Plan) *plan.Include {
	n := res.Navigation
	inc := &plan.Include{Navigation: n.Name, Many: n.Many, Target: n.Target, Query: q}
	if n.Many {
		inc.Collection = n.Collection
	} else {
		inc.Field = res.Path
	}
	return inc
}

// LeftJoin accepts only joins that follow a declared navigation and turns
// them into an include on the outer entity. Two shapes are recognized: an
// outer reference matched to the inner identifier, and the outer identifier
// matched to an inner reference back to the outer entity, which loads the
// outer child collection of inner documents.
func (t *Translator) LeftJoin(p *plan.Plan, inner *model.Entity, outerKey, innerKey *expr.Expr) (*plan.Plan, error) {
	outer := p.Entity
	om, im := memberPath(outerKey), memberPath(innerKey)
	unsupported := domain.Unsupported("join", "joins are not supported: "+outer.String()+" has no navigation to "+inner.String())
	if om == nil || im == nil {
		return nil, unsupported
	}

	if isIdentifierPath(inner, im) && len(om) > 0 {
		res, err := outer.Resolve(om)
		if err == nil && res.Navigation != nil && !res.Navigation.Many && res.Navigation.Target == inner {
			return p.WithInclude(include(res, nil))
		}
		return nil, unsupported
	}

	if isIdentifierPath(outer, om) && len(im) > 0 {
		back, err := inner.Resolve(im)
		if err != nil || back.Navigation == nil || back.Navigation.Many || back.Navigation.Target != outer {
			return nil, unsupported
		}
		for _, n := range outer.Navigations {
			if n.Many && n.Target == inner {
				return p.WithInclude(include(model.Resolved{Path: n.Collection, Navigation: n}, nil))
			}
		}
	}
	return nil, unsupported
}

func memberPath(key *expr.Expr) []string {
	m := expr.Unwrap(key)
	if m == nil || m.Kind != expr.KindMember {
		return nil
	}
	if m.Path == nil {
		return []string{}
	}
	return m.Path
}

// isIdentifierPath reports whether path is the entity itself or its
// identifier member.
func isIdentifierPath(e *model.Entity, path []string) bool {
	return len(path) == 0 || len(path) == 1 && e.IsIdentifier(path[0])
}
