package retok

// matchNode is a node in a rune trie over token surfaces. The encoder walks
// the trie one rune at a time to spot special token surfaces mid-stream
// without backtracking further than a candidate match.
type matchNode struct {
	r        rune
	runes    []rune
	terminal bool
	childs   map[rune]*matchNode
	// childsArr mirrors childs while the fan-out stays small; linear scans
	// over a short array beat map lookups on the hot path.
	childsArr *[]*matchNode
}

type matchTree struct {
	root *matchNode
}

func newMatchTree(surfaces []string) *matchTree {
	tree := &matchTree{
		root: &matchNode{
			runes:  []rune{},
			childs: make(map[rune]*matchNode),
		},
	}
	for _, surface := range surfaces {
		tree.insert(surface)
	}
	return tree
}

// insert adds a token surface to the trie. Surfaces may be added after
// construction, so added token definitions discovered late still match.
func (tree *matchTree) insert(surface string) {
	keyRunes := []rune(surface)
	keyLen := len(keyRunes)
	node := tree.root
	for i := 0; i < keyLen; i++ {
		r := keyRunes[i]
		childNode, ok := node.childs[r]
		if !ok {
			children := make([]*matchNode, 0)
			childNode = &matchNode{
				r:         r,
				runes:     keyRunes[:i+1],
				terminal:  i == keyLen-1,
				childs:    make(map[rune]*matchNode),
				childsArr: &children,
			}
			node.childs[r] = childNode
		} else if i == keyLen-1 {
			childNode.terminal = true
		}
		if len(node.childs) > 10 {
			// Past 10 children the array scan loses to the map.
			node.childsArr = nil
		} else {
			if node.childsArr == nil {
				children := make([]*matchNode, 0)
				node.childsArr = &children
			}
			if len(node.childs) != len(*node.childsArr) {
				*node.childsArr = append(*node.childsArr, node.childs[r])
			}
		}
		node = childNode
	}
}

// step advances a candidate match by one rune, returning the next node and
// whether it completes a surface. A nil node means the candidate is dead.
func (node *matchNode) step(r rune) (*matchNode, bool) {
	if node.childsArr != nil {
		for _, child := range *node.childsArr {
			if child.r == r {
				return child, child.terminal
			}
		}
	} else {
		if child, ok := node.childs[r]; ok {
			return child, child.terminal
		}
	}
	return nil, false
}
