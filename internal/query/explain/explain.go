// Package explain renders plans and lowered requests as text tables.
package explain

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/query/builder"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// Plan writes one row per plan property.
func Plan(w io.Writer, p *plan.Plan) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Property", "Value"})
	table.SetAutoWrapText(false)
	for _, row := range planRows(p) {
		table.Append(row)
	}
	table.Render()
}

func planRows(p *plan.Plan) [][]string {
	rows := [][]string{{"collection", p.Collection}}
	if p.Entity != nil {
		rows = append(rows, []string{"entity", p.Entity.String()})
	}
	if p.IdentifierOnly {
		rows = append(rows, []string{"identifier", p.Identifier.String()})
	}
	for _, c := range p.Filters {
		rows = append(rows, []string{"filter", c.String()})
	}
	for _, g := range p.OrGroups {
		alts := make([]string, len(g))
		for i, c := range g {
			alts[i] = c.String()
		}
		rows = append(rows, []string{"any of", strings.Join(alts, " | ")})
	}
	for _, s := range p.Sorts {
		dir := "asc"
		if s.Descending {
			dir = "desc"
		}
		rows = append(rows, []string{"order", s.Field + " " + dir})
	}
	if p.Skip != nil {
		rows = append(rows, []string{"skip", p.Skip.String()})
	}
	if p.Limit != nil {
		rows = append(rows, []string{"limit", p.Limit.String()})
	}
	if p.LimitToLast != nil {
		rows = append(rows, []string{"limit to last", p.LimitToLast.String()})
	}
	switch {
	case p.Count:
		rows = append(rows, []string{"result", "count"})
	case p.Exists:
		rows = append(rows, []string{"result", "exists"})
	case p.Aggregation != nil:
		rows = append(rows, []string{"result", fmt.Sprintf("%s(%s)", p.Aggregation.Kind, p.Aggregation.Field)})
	case p.Projection != nil:
		rows = append(rows, []string{"result", shapeString(p.Projection)})
	default:
		rows = append(rows, []string{"result", p.Return.String()})
	}
	for _, inc := range p.Includes {
		rows = append(rows, []string{"include", inc.String()})
	}
	return rows
}

func shapeString(s *plan.Shape) string {
	parts := make([]string, 0, len(s.Fields)+len(s.Subcollections))
	for _, f := range s.Fields {
		parts = append(parts, f.Name+"="+f.Source)
	}
	for _, sub := range s.Subcollections {
		v := sub.Name + "=" + sub.Collection() + "[]"
		if sub.Aggregation != nil {
			v = sub.Name + "=" + string(sub.Aggregation.Kind) + "(" + sub.Collection() + ")"
		}
		parts = append(parts, v)
	}
	return s.Kind.String() + " {" + strings.Join(parts, ", ") + "}"
}

// Lowered writes the concrete store request.
func Lowered(w io.Writer, l *builder.Lowered) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Kind", "Target", "Detail"})
	table.SetAutoWrapText(false)
	switch l.Kind {
	case builder.KindLookup:
		detail := "get"
		if l.Count || l.Exists {
			detail = "exists"
		}
		table.Append([]string{l.Kind.String(), l.Path, detail})
	case builder.KindAggregate:
		q := l.Aggregate.Query
		for _, a := range l.Aggregate.Aggregations {
			table.Append([]string{l.Kind.String(), q.Collection, fmt.Sprintf("%s=%s(%s)", a.Alias, a.Kind, a.Field)})
		}
		appendConditions(table, &q)
	default:
		q := l.Query
		table.Append([]string{l.Kind.String(), q.Collection, "offset=" + strconv.Itoa(q.Offset) + " limit=" + strconv.Itoa(q.Limit)})
		appendConditions(table, q)
	}
	table.Render()
}

func appendConditions(table *tablewriter.Table, q *db.Query) {
	for _, c := range q.Filters {
		table.Append([]string{"", "where", c.String()})
	}
	for _, g := range q.OrGroups {
		alts := make([]string, len(g))
		for i, c := range g {
			alts[i] = c.String()
		}
		table.Append([]string{"", "any of", strings.Join(alts, " | ")})
	}
	for _, o := range q.Orders {
		table.Append([]string{"", "order", o.String()})
	}
	if q.LimitToLast {
		table.Append([]string{"", "limit", "from end"})
	}
}
