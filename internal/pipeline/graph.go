// Package pipeline runs incident state through a directed graph of steps
// declared in Graphviz DOT.
//
// Edges leaving a node are tried in the order they appear in the source; the
// first whose condition holds is taken. A condition is the edge label, an
// expr-lang expression over the state variables (see incident.State.Vars).
// An unlabeled edge always matches. The start node is the graph's root
// attribute.
package pipeline

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

//go:embed incident.dot
var IncidentDOT string

// #region model

// Graph is a compiled pipeline definition.
type Graph struct {
	Name   string
	Start  string
	Nodes  map[string]*Node
	Source string
}

// Node is one step position in the graph.
type Node struct {
	ID          string
	Description string
	Outgoing    []Edge
}

// Edge is a transition, guarded by an optional condition.
type Edge struct {
	To      string
	Cond    string
	program *vm.Program
}

// NodeIDs returns node ids in no particular order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	return ids
}

// #endregion model

// #region compile

// Compile parses DOT source, checks every edge condition against the state
// variables, and returns the graph.
func Compile(dot string) (*Graph, error) {
	ast, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}
	g := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, g); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}
	if !g.Directed {
		return nil, fmt.Errorf("graph %q must be a digraph", g.Name)
	}

	out := &Graph{
		Name:   g.Name,
		Start:  unquote(g.Attrs[gographviz.Root]),
		Nodes:  map[string]*Node{},
		Source: dot,
	}
	for _, n := range g.Nodes.Nodes {
		out.Nodes[n.Name] = &Node{
			ID:          n.Name,
			Description: unquote(n.Attrs[gographviz.Tooltip]),
			Outgoing:    []Edge{},
		}
	}
	if out.Start == "" {
		return nil, fmt.Errorf("graph %q has no root attribute", g.Name)
	}
	if _, ok := out.Nodes[out.Start]; !ok {
		return nil, fmt.Errorf("root %q is not a node", out.Start)
	}

	env := (&incident.State{}).Vars()
	// gographviz keeps edges in source order.
	for _, e := range g.Edges.Edges {
		from, ok := out.Nodes[e.Src]
		if !ok {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Src)
		}
		if _, ok := out.Nodes[e.Dst]; !ok {
			return nil, fmt.Errorf("edge references unknown destination node %q", e.Dst)
		}
		cond := strings.TrimSpace(unquote(e.Attrs[gographviz.Label]))
		edge := Edge{To: e.Dst, Cond: cond}
		if cond != "" {
			if err := Validate(cond); err != nil {
				return nil, fmt.Errorf("invalid cond on edge %s->%s: %w", e.Src, e.Dst, err)
			}
			edge.program, err = expr.Compile(cond, expr.Env(env), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("invalid cond on edge %s->%s: %w", e.Src, e.Dst, err)
			}
		}
		from.Outgoing = append(from.Outgoing, edge)
	}
	return out, nil
}

// Default compiles the embedded incident graph.
func Default() (*Graph, error) {
	return Compile(IncidentDOT)
}

// unquote strips the surrounding quotes gographviz keeps on attribute values.
func unquote(val string) string {
	val = strings.TrimSpace(val)
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		val = strings.ReplaceAll(val[1:len(val)-1], `\"`, `"`)
	}
	return val
}

// #endregion compile

// #region evaluate

// Match reports whether the edge condition holds for vars.
func (e Edge) Match(vars map[string]any) (bool, error) {
	if e.program == nil {
		return true, nil
	}
	out, err := expr.Run(e.program, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("cond must evaluate to bool (got %T)", out)
	}
	return b, nil
}

// #endregion evaluate
