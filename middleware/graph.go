package middleware

import (
	"fmt"
	"sync"

	"github.com/m1gwings/treedrawer/tree"
	"go.uber.org/zap"

	"github.com/pumped-fn/storion"
)

// GraphDebug records the resolution tree of every top-level Get and logs it
// when a factory in the tree fails.
//
// Usage:
//
//	debug := middleware.NewGraphDebug(logger)
//	r := storion.NewResolver(storion.WithMiddleware(debug.Middleware()))
//
// The tree marks resolved factories with ✓ and failed ones with ✗.
type GraphDebug struct {
	logger *zap.Logger

	mu    sync.Mutex
	stack []*resolveNode
	last  *resolveNode
}

type resolveNode struct {
	name     string
	kind     storion.Kind
	err      error
	done     bool
	children []*resolveNode
}

// NewGraphDebug creates a graph debug middleware logging to logger
func NewGraphDebug(logger *zap.Logger) *GraphDebug {
	return &GraphDebug{logger: logger}
}

// Middleware returns the resolver middleware
func (g *GraphDebug) Middleware() storion.Middleware {
	return func(ctx *storion.MiddlewareContext) (any, error) {
		node := g.push(ctx)
		result, err := ctx.Next()
		root := g.pop(node, err)

		if root != nil && err != nil {
			g.logger.Error("dependency resolution error",
				zap.String("factory", ctx.DisplayName),
				zap.String("type", string(ctx.Type)),
				zap.Error(err),
				zap.String("dependency_graph", "\n"+renderResolve(root)),
			)
		}
		return result, err
	}
}

// Last returns the rendered tree of the most recent top-level resolution
func (g *GraphDebug) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last == nil {
		return ""
	}
	return renderResolve(g.last)
}

func (g *GraphDebug) push(ctx *storion.MiddlewareContext) *resolveNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := &resolveNode{name: ctx.DisplayName, kind: ctx.Type}
	if n := len(g.stack); n > 0 {
		parent := g.stack[n-1]
		parent.children = append(parent.children, node)
	}
	g.stack = append(g.stack, node)
	return node
}

// pop closes node and returns it when it was the outermost frame
func (g *GraphDebug) pop(node *resolveNode, err error) *resolveNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	node.done = true
	node.err = err
	if n := len(g.stack); n > 0 && g.stack[n-1] == node {
		g.stack = g.stack[:n-1]
	}
	if len(g.stack) > 0 {
		return nil
	}
	g.last = node
	return node
}

func renderResolve(root *resolveNode) string {
	t := tree.NewTree(tree.NodeString(resolveLabel(root)))

	type frame struct {
		node *resolveNode
		tree *tree.Tree
	}
	stack := []frame{{root, t}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, child := range cur.node.children {
			stack = append(stack, frame{child, cur.tree.AddChild(tree.NodeString(resolveLabel(child)))})
		}
	}
	return t.String()
}

func resolveLabel(n *resolveNode) string {
	switch {
	case n.err != nil:
		return fmt.Sprintf("%s [%s] ✗", n.name, n.kind)
	case n.done:
		return fmt.Sprintf("%s [%s] ✓", n.name, n.kind)
	default:
		return fmt.Sprintf("%s [%s] …", n.name, n.kind)
	}
}

// Tree renders inst and the instances it depends on. An instance reached
// twice is rendered once; later occurrences are marked with ↺.
func Tree(inst storion.AnyInstance) string {
	t := tree.NewTree(tree.NodeString(instanceLabel(inst)))

	type frame struct {
		inst storion.AnyInstance
		tree *tree.Tree
	}
	visited := map[storion.AnyInstance]bool{inst: true}
	stack := []frame{{inst, t}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, dep := range cur.inst.Deps() {
			if visited[dep] {
				cur.tree.AddChild(tree.NodeString(instanceLabel(dep) + " ↺"))
				continue
			}
			visited[dep] = true
			stack = append(stack, frame{dep, cur.tree.AddChild(tree.NodeString(instanceLabel(dep)))})
		}
	}
	return t.String()
}

func instanceLabel(inst storion.AnyInstance) string {
	label := inst.Info().DisplayName
	if inst.Disposed() {
		label += " (disposed)"
	}
	return label
}
