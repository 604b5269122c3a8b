package mega

import (
	"errors"
	"strings"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// tree is a decrypted view of a remote node set. Nodes live in an arena keyed by handle;
// parents are referenced by handle and children are kept in an index in delivery order.
type tree struct {
	nodes    map[string]*Node
	children map[string][]string

	// roots are the entry points of the view: the root containers and incoming shares for an
	// account, or the shared folder for a public folder.
	roots []string

	// virtualTop makes "/" a listing of the roots instead of the first root itself.
	virtualTop bool

	orphans       []string
	undecryptable []string
}

func newTree(virtualTop bool) *tree {
	return &tree{
		nodes:      make(map[string]*Node),
		children:   make(map[string][]string),
		virtualTop: virtualTop,
	}
}

// buildTree decrypts records into a tree. Records may arrive in any order.
//
// The first pass indexes every record by handle and by parent. The second pass walks down
// from the roots, so a node's key is only ever unwrapped after its ancestors were reached.
// Records that never connect to a root are orphans; records whose key cannot be unwrapped
// with the ring (and their subtrees) are skipped. Neither aborts the build. A key or
// attribute blob that unwraps to garbage does.
func buildTree(records []NodeRecord, kr *keyRing, isRoot func(NodeRecord) bool, virtualTop bool) (*tree, error) {
	t := newTree(virtualTop)

	raw := make(map[string]NodeRecord, len(records))
	kids := make(map[string][]string)

	var order []string

	for _, rec := range records {
		if _, ok := raw[rec.Handle]; ok {
			continue
		}

		raw[rec.Handle] = rec
		order = append(order, rec.Handle)

		if isRoot(rec) {
			t.roots = append(t.roots, rec.Handle)
		} else {
			kids[rec.Parent] = append(kids[rec.Parent], rec.Handle)
		}
	}

	for _, handle := range order {
		rec := raw[handle]

		if rec.ShareKey == "" || kr == nil {
			continue
		}

		key, err := kr.unwrapShareKey(rec.ShareKey)
		if err != nil {
			return nil, err
		}

		kr.setShareKey(rec.Handle, key)
	}

	reached := make(map[string]bool, len(raw))

	for _, root := range t.roots {
		stack := []string{root}

		for len(stack) > 0 {
			handle := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if reached[handle] {
				continue
			}

			reached[handle] = true

			node, ok, err := decryptRecord(raw[handle], kr)
			if err != nil {
				return nil, err
			} else if !ok {
				t.undecryptable = append(t.undecryptable, handle)
				continue
			}

			t.insert(node)

			children := kids[handle]
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}

	// Roots that could not be decrypted are not entry points.
	t.roots = xslices.Filter(t.roots, func(h string) bool { _, ok := t.nodes[h]; return ok })

	t.orphans = xslices.Filter(order, func(h string) bool {
		return !reached[h] && !underAny(raw, h, reached)
	})

	if len(t.orphans) > 0 || len(t.undecryptable) > 0 {
		logrus.WithFields(logrus.Fields{
			"pkg":           "go-mega",
			"orphans":       len(t.orphans),
			"undecryptable": len(t.undecryptable),
		}).Warn("Skipped nodes while building tree")
	}

	return t, nil
}

// underAny reports whether handle has an ancestor that was reached. Such nodes were skipped
// together with an undecryptable ancestor and are not orphans.
func underAny(raw map[string]NodeRecord, handle string, reached map[string]bool) bool {
	seen := map[string]bool{handle: true}

	for rec, ok := raw[handle]; ok; rec, ok = raw[rec.Parent] {
		if seen[rec.Parent] {
			return false
		}

		seen[rec.Parent] = true

		if reached[rec.Parent] {
			return true
		}
	}

	return false
}

// decryptRecord unwraps the key and attributes of a record. ok is false when the ring
// holds no key able to unwrap it.
func decryptRecord(rec NodeRecord, kr *keyRing) (*Node, bool, error) {
	node := &Node{
		Handle:    rec.Handle,
		Parent:    rec.Parent,
		Owner:     rec.Owner,
		Type:      rec.Type,
		Size:      rec.Size,
		Timestamp: rec.Timestamp,
		Previews:  rec.FileAttrs,
		SharedBy:  rec.SharingUser,
	}

	if name := rec.Type.rootName(); name != "" {
		node.Name = name
		return node, true, nil
	}

	if kr == nil {
		return nil, false, nil
	}

	key, ok, err := kr.DecryptNodeKey(rec.Handle, rec.Key)
	if err != nil || !ok {
		return nil, ok, err
	}

	if (rec.Type == FileNode && len(key) != 32) || (rec.Type != FileNode && len(key) != 16) {
		return nil, false, &CryptoError{Op: "key", Handle: rec.Handle, Err: ErrBadKey}
	}

	attrs, err := DecryptAttributes(key, rec.Attrs)
	if err != nil {
		var cryptoErr *CryptoError

		if errors.As(err, &cryptoErr) {
			cryptoErr.Handle = rec.Handle
		}

		return nil, false, err
	}

	node.Name = attrs.Name
	node.key = key
	node.fingerprint = attrs.Fingerprint

	return node, true, nil
}

func (t *tree) insert(node *Node) {
	if _, ok := t.nodes[node.Handle]; !ok {
		t.children[node.Parent] = append(t.children[node.Parent], node.Handle)
	}

	t.nodes[node.Handle] = node
}

func (t *tree) get(handle string) (*Node, bool) {
	node, ok := t.nodes[handle]

	return node, ok
}

func (t *tree) isRoot(handle string) bool {
	return xslices.Index(t.roots, handle) >= 0
}

// childrenOf returns the children of handle in delivery order.
func (t *tree) childrenOf(handle string) []*Node {
	return xslices.Map(t.children[handle], func(h string) *Node { return t.nodes[h] })
}

// splitPath splits a "/"-separated path into NFC-normalised segments, ignoring empty ones.
func splitPath(path string) []string {
	return xslices.Filter(strings.Split(norm.NFC.String(path), "/"), func(s string) bool { return s != "" })
}

// resolve returns the node at path. The boolean is false for the virtual top ("/" of an
// account view), which has no node. Among siblings sharing a name the first delivered wins.
func (t *tree) resolve(path string) (*Node, bool, error) {
	segs := splitPath(path)

	var candidates []*Node

	if t.virtualTop {
		if len(segs) == 0 {
			return nil, false, nil
		}

		candidates = xslices.Map(t.roots, func(h string) *Node { return t.nodes[h] })
	} else {
		if len(t.roots) == 0 {
			return nil, true, &NotFoundError{Path: path}
		}

		candidates = []*Node{t.nodes[t.roots[0]]}
		segs = append([]string{candidates[0].Name}, segs...)
	}

	var cur *Node

	for i, seg := range segs {
		idx := xslices.IndexFunc(candidates, func(n *Node) bool { return n.Name == seg })
		if idx < 0 {
			return nil, true, &NotFoundError{Path: path}
		}

		cur = candidates[idx]

		if i < len(segs)-1 {
			if !cur.IsFolder() {
				return nil, true, &NotFoundError{Path: path}
			}

			candidates = t.childrenOf(cur.Handle)
		}
	}

	return cur, true, nil
}

// stat returns a copy of the node at path.
func (t *tree) stat(path string) (Node, bool) {
	node, real, err := t.resolve(path)
	if err != nil || !real {
		return Node{}, false
	}

	return *node, true
}

// list returns copies of the children of the folder at path, in pre-order when recursive.
// Listing a file returns the file itself.
func (t *tree) list(path string, recursive bool) ([]Node, error) {
	node, real, err := t.resolve(path)
	if err != nil {
		return nil, err
	}

	var start []*Node

	switch {
	case !real:
		start = xslices.Map(t.roots, func(h string) *Node { return t.nodes[h] })

	case !node.IsFolder():
		return []Node{*node}, nil

	default:
		start = t.childrenOf(node.Handle)
	}

	var out []Node

	var walk func([]*Node)

	walk = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, *n)

			if recursive && n.IsFolder() {
				walk(t.childrenOf(n.Handle))
			}
		}
	}

	walk(start)

	return out, nil
}

// rename applies a confirmed rename.
func (t *tree) rename(handle, name string) {
	if node, ok := t.nodes[handle]; ok {
		node.Name = name
	}
}

// move applies a confirmed move, keeping the node's subtree.
func (t *tree) move(handle, parent string) {
	node, ok := t.nodes[handle]
	if !ok {
		return
	}

	t.unlink(node)

	node.Parent = parent
	t.children[parent] = append(t.children[parent], handle)
}

// remove applies a confirmed deletion of the subtree rooted at handle.
func (t *tree) remove(handle string) {
	node, ok := t.nodes[handle]
	if !ok {
		return
	}

	t.unlink(node)

	stack := []string{handle}

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		stack = append(stack, t.children[h]...)

		delete(t.children, h)
		delete(t.nodes, h)
	}
}

func (t *tree) unlink(node *Node) {
	siblings := t.children[node.Parent]

	if idx := xslices.Index(siblings, node.Handle); idx >= 0 {
		t.children[node.Parent] = xslices.Remove(siblings, idx, 1)
	}
}

// ancestors returns the handles from handle up to its root, handle first.
func (t *tree) ancestors(handle string) []string {
	var out []string

	for node, ok := t.nodes[handle]; ok; node, ok = t.nodes[node.Parent] {
		out = append(out, node.Handle)

		if t.isRoot(node.Handle) || len(out) > len(t.nodes) {
			break
		}
	}

	return out
}

// subtree returns the node at handle followed by all its descendants in pre-order.
func (t *tree) subtree(handle string) []*Node {
	node, ok := t.nodes[handle]
	if !ok {
		return nil
	}

	out := []*Node{node}

	for _, child := range t.childrenOf(handle) {
		out = append(out, t.subtree(child.Handle)...)
	}

	return out
}
