// Package comments turns a post's flat comment list into reply threads.
package comments

import (
	"cmp"
	"slices"
	"sync"

	"github.com/desurestar/RSOD-project/internal/domain"
)

// DefaultReplyWindow is the number of replies shown before "show all".
const DefaultReplyWindow = 3

// Node is a comment with its replies in chronological order.
type Node struct {
	Comment  domain.Comment
	Children []*Node
}

func compareComments(a, b domain.Comment) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// BuildTree groups comments under their parents. Comments without a parent,
// or whose parent is not in the list, are roots. Siblings are ordered by
// creation time, then id. The first of any duplicated id wins.
//
// A parent chain that loops back on itself has no root. Each such cycle is
// cut at its earliest comment, which becomes a root, so every comment appears
// exactly once.
func BuildTree(list []domain.Comment) []*Node {
	byID := make(map[int64]domain.Comment, len(list))
	order := make([]domain.Comment, 0, len(list))
	for _, c := range list {
		if _, dup := byID[c.ID]; dup {
			continue
		}
		byID[c.ID] = c
		order = append(order, c)
	}

	children := make(map[int64][]domain.Comment, len(order))
	var roots []domain.Comment
	for _, c := range order {
		if isRoot(c, byID) {
			roots = append(roots, c)
			continue
		}
		children[*c.ParentComment] = append(children[*c.ParentComment], c)
	}
	for id := range children {
		slices.SortStableFunc(children[id], compareComments)
	}

	placed := make(map[int64]bool, len(order))
	var build func(c domain.Comment) *Node
	build = func(c domain.Comment) *Node {
		placed[c.ID] = true
		n := &Node{Comment: c}
		for _, child := range children[c.ID] {
			if placed[child.ID] {
				continue
			}
			n.Children = append(n.Children, build(child))
		}
		return n
	}

	slices.SortStableFunc(roots, compareComments)
	forest := make([]*Node, 0, len(roots))
	for _, r := range roots {
		forest = append(forest, build(r))
	}

	// Whatever is left only hangs off a cycle.
	var orphans []domain.Comment
	for _, c := range order {
		if !placed[c.ID] {
			orphans = append(orphans, c)
		}
	}
	if len(orphans) == 0 {
		return forest
	}
	slices.SortStableFunc(orphans, compareComments)
	for _, c := range orphans {
		if placed[c.ID] {
			continue
		}
		forest = append(forest, build(earliestInCycle(c, byID)))
	}
	slices.SortStableFunc(forest, func(a, b *Node) int { return compareComments(a.Comment, b.Comment) })
	return forest
}

// earliestInCycle follows parents from c, which must not reach a root, and
// returns the earliest comment of the cycle the chain ends in.
func earliestInCycle(c domain.Comment, byID map[int64]domain.Comment) domain.Comment {
	visited := make(map[int64]bool)
	cur := c
	for !visited[cur.ID] {
		visited[cur.ID] = true
		cur = byID[*cur.ParentComment]
	}

	best := cur
	for n := byID[*cur.ParentComment]; n.ID != cur.ID; n = byID[*n.ParentComment] {
		if compareComments(n, best) < 0 {
			best = n
		}
	}
	return best
}

func isRoot(c domain.Comment, byID map[int64]domain.Comment) bool {
	if c.ParentComment == nil || *c.ParentComment == c.ID {
		return true
	}
	_, ok := byID[*c.ParentComment]
	return !ok
}

// Count returns the number of comments in forest.
func Count(forest []*Node) int {
	n := 0
	for _, node := range forest {
		n += 1 + Count(node.Children)
	}
	return n
}

// Thread is a comment forest with per-comment "show all replies" state.
type Thread struct {
	window int

	mu       sync.RWMutex
	forest   []*Node
	expanded map[int64]bool
}

// NewThread wraps forest, showing window replies per comment until expanded.
func NewThread(forest []*Node, window int) *Thread {
	if window <= 0 {
		window = DefaultReplyWindow
	}
	return &Thread{
		window:   window,
		forest:   forest,
		expanded: make(map[int64]bool),
	}
}

// Roots returns the top-level comments.
func (t *Thread) Roots() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.forest
}

// Replace swaps in a rebuilt forest, keeping expanded state for ids that survive.
func (t *Thread) Replace(forest []*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forest = forest

	present := make(map[int64]struct{}, len(t.expanded))
	var walk func([]*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			present[n.Comment.ID] = struct{}{}
			walk(n.Children)
		}
	}
	walk(forest)
	for id := range t.expanded {
		if _, ok := present[id]; !ok {
			delete(t.expanded, id)
		}
	}
}

// Len returns the total number of comments.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Count(t.forest)
}

// Visible returns the replies of n to display and how many are hidden.
func (t *Thread) Visible(n *Node) ([]*Node, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.expanded[n.Comment.ID] || len(n.Children) <= t.window {
		return n.Children, 0
	}
	return n.Children[:t.window], len(n.Children) - t.window
}

// Toggle flips "show all replies" for the comment id and returns the new state.
func (t *Thread) Toggle(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expanded[id] = !t.expanded[id]
	return t.expanded[id]
}

// Expanded reports whether all replies of id are shown.
func (t *Thread) Expanded(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.expanded[id]
}
