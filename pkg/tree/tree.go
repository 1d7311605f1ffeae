// Package tree turns the flat comment collection of a discussion into a forest of reply chains.
package tree

import "seertix/pkg/models"

type Node struct {
	models.Comment
	Replies []*Node
}

// Build links comments to their parents and returns the root comments.
//
// Roots and replies keep the order of the input. A comment whose parent is not in the input is a
// root. Every input element yields exactly one node, so duplicate ids produce duplicate nodes and
// replies attach to the last node with the parent id. In each parent cycle, the member listed
// first becomes a root. The input is never modified. Build runs in linear time.
func Build(comments []models.Comment) []*Node {
	nodes := make([]*Node, len(comments))
	byID := make(map[models.ID]*Node, len(comments))
	for i, c := range comments {
		n := &Node{Comment: c}
		nodes[i] = n
		byID[c.ID] = n
	}

	broken := cycleBreakers(nodes, byID)

	var roots []*Node
	for _, n := range nodes {
		parent, ok := byID[n.ParentID]
		if n.ParentID.IsZero() || !ok || (byID[n.ID] == n && broken[n.ID]) {
			roots = append(roots, n)
			continue
		}
		parent.Replies = append(parent.Replies, n)
	}

	return roots
}

// cycleBreakers returns, for every cycle of parent links between the nodes of byID, the id of the
// member that comes first in nodes. Each node is visited once.
func cycleBreakers(nodes []*Node, byID map[models.ID]*Node) map[models.ID]bool {
	const (
		unvisited = iota
		onPath
		done
	)

	first := make(map[models.ID]int, len(byID))
	for i, n := range nodes {
		if byID[n.ID] == n {
			first[n.ID] = i
		}
	}

	state := make(map[models.ID]int, len(byID))
	broken := make(map[models.ID]bool)
	var path []models.ID
	pos := make(map[models.ID]int)

	for _, start := range nodes {
		path = path[:0]
		cur := start.ID
		cyclic := false
		for {
			if st := state[cur]; st != unvisited {
				cyclic = st == onPath
				break
			}
			state[cur] = onPath
			pos[cur] = len(path)
			path = append(path, cur)

			parent := byID[cur].ParentID
			if _, ok := byID[parent]; parent.IsZero() || !ok {
				break
			}
			cur = parent
		}

		if cyclic {
			breaker := cur
			for _, id := range path[pos[cur]:] {
				if first[id] < first[breaker] {
					breaker = id
				}
			}
			broken[breaker] = true
		}
		for _, id := range path {
			state[id] = done
		}
	}

	return broken
}

// Walk visits the forest depth-first in display order, roots at depth 0.
// It stops as soon as fn returns false.
func Walk(forest []*Node, fn func(n *Node, depth int) bool) {
	type item struct {
		n     *Node
		depth int
	}

	stack := make([]item, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, item{forest[i], 0})
	}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !fn(it.n, it.depth) {
			return
		}
		for i := len(it.n.Replies) - 1; i >= 0; i-- {
			stack = append(stack, item{it.n.Replies[i], it.depth + 1})
		}
	}
}

// Flatten returns the comments of the forest in display order.
func Flatten(forest []*Node) []models.Comment {
	var out []models.Comment
	Walk(forest, func(n *Node, _ int) bool {
		out = append(out, n.Comment)
		return true
	})
	return out
}

func Count(forest []*Node) int {
	cnt := 0
	Walk(forest, func(*Node, int) bool {
		cnt++
		return true
	})
	return cnt
}

// Depth returns the number of levels in the forest: 0 when empty, 1 when there are no replies.
func Depth(forest []*Node) int {
	depth := 0
	Walk(forest, func(_ *Node, d int) bool {
		if d+1 > depth {
			depth = d + 1
		}
		return true
	})
	return depth
}
