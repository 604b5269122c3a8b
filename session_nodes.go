package mega

import (
	"context"
	"fmt"
	"strings"

	"github.com/bradenaw/juniper/xslices"
	"golang.org/x/text/unicode/norm"
)

// placeholderHandle stands for a node that does not have a handle yet in a put command.
const placeholderHandle = "xxxxxxxx"

// Mkdir creates the folder at path. Its parent must exist. Mkdir refuses with ErrExists when
// the parent already has a child of that name, since only the first of two same-named
// siblings is reachable by path. Siblings with the same name that already exist, such as
// two uploads of one file name, are kept and listed.
func (s *Session) Mkdir(ctx context.Context, path string) (Node, error) {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	parentPath, name := splitParent(path)
	if name == "" {
		return Node{}, fmt.Errorf("invalid folder path %q", path)
	}

	parent, err := s.folderAt(parentPath)
	if err != nil {
		return Node{}, err
	}

	if xslices.IndexFunc(s.tree.childrenOf(parent.Handle), func(n *Node) bool { return n.Name == name }) >= 0 {
		return Node{}, fmt.Errorf("%s: %w", path, ErrExists)
	}

	key := RandomBytes(16)

	attrs, err := EncryptAttributes(key, Attributes{Name: name})
	if err != nil {
		return Node{}, err
	}

	encKey, err := EncryptKey(s.master, key)
	if err != nil {
		return Node{}, err
	}

	req := PutNodesReq{
		Action: "p",
		Target: parent.Handle,
		Nodes: []NewNode{{
			Handle: placeholderHandle,
			Type:   FolderNode,
			Attrs:  attrs,
			Key:    Base64Encode(encKey),
		}},
		Shares: s.shareEntries(parent.Handle, map[string][]byte{placeholderHandle: key}),
	}

	var res PutNodesRes

	if err := s.call(ctx, req, &res); err != nil {
		return Node{}, err
	}

	nodes, err := s.applyPut(res)
	if err != nil {
		return Node{}, err
	}

	return nodes[0], nil
}

// Rename gives the node at path a new name. Its key and place in the tree are unchanged.
func (s *Session) Rename(ctx context.Context, path, newName string) error {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	if newName == "" || strings.Contains(newName, "/") {
		return fmt.Errorf("invalid name %q", newName)
	}

	node, err := s.mutableAt(path)
	if err != nil {
		return err
	}

	attrs, err := EncryptAttributes(node.key, Attributes{Name: newName, Fingerprint: node.fingerprint})
	if err != nil {
		return err
	}

	if err := s.call(ctx, SetAttrReq{Action: "a", Node: node.Handle, Attrs: attrs}, nil); err != nil {
		return err
	}

	s.tree.rename(node.Handle, norm.NFC.String(newName))

	return nil
}

// Mv moves the node at src into the folder at dst.
func (s *Session) Mv(ctx context.Context, src, dst string) error {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	node, err := s.mutableAt(src)
	if err != nil {
		return err
	}

	target, err := s.folderAt(dst)
	if err != nil {
		return err
	}

	if xslices.Index(s.tree.ancestors(target.Handle), node.Handle) >= 0 {
		return fmt.Errorf("cannot move %s into %s: %w", src, dst, Error{Code: Circular})
	}

	if target.Handle == node.Parent {
		return nil
	}

	keys := make(map[string][]byte)

	for _, n := range s.tree.subtree(node.Handle) {
		keys[n.Handle] = n.key
	}

	req := MoveReq{
		Action: "m",
		Node:   node.Handle,
		Target: target.Handle,
		Shares: s.shareEntries(target.Handle, keys),
	}

	if err := s.call(ctx, req, nil); err != nil {
		return err
	}

	s.tree.move(node.Handle, target.Handle)

	return nil
}

// Rm deletes the node at path and its whole subtree.
func (s *Session) Rm(ctx context.Context, path string) error {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	node, err := s.mutableAt(path)
	if err != nil {
		return err
	}

	if err := s.call(ctx, DeleteReq{Action: "d", Node: node.Handle}, nil); err != nil {
		return err
	}

	s.tree.remove(node.Handle)

	return nil
}

// folderAt resolves path to a folder-like node. The caller holds the tree lock.
func (s *Session) folderAt(path string) (*Node, error) {
	node, real, err := s.tree.resolve(path)
	if err != nil {
		return nil, err
	}

	if !real || !node.IsFolder() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotContainer)
	}

	return node, nil
}

// mutableAt resolves path to a node that may be renamed, moved or removed.
func (s *Session) mutableAt(path string) (*Node, error) {
	node, real, err := s.tree.resolve(path)
	if err != nil {
		return nil, err
	}

	if !real || node.Type.rootName() != "" {
		return nil, fmt.Errorf("%s is a root container: %w", path, Error{Code: AccessDenied})
	}

	return node, nil
}

// shareEntries wraps the given node keys for every share containing the folder at parent,
// so that the nodes stay readable by the share's recipients.
func (s *Session) shareEntries(parent string, keys map[string][]byte) []ShareKeyEntry {
	var out []ShareKeyEntry

	for _, anc := range s.tree.ancestors(parent) {
		shareKey, ok := s.kr.shareKey(anc)
		if !ok {
			continue
		}

		for handle, key := range keys {
			enc, err := EncryptKey(shareKey, key)
			if err != nil {
				continue
			}

			out = append(out, ShareKeyEntry{Share: anc, Node: handle, Key: Base64Encode(enc)})
		}
	}

	return out
}

// applyPut inserts the nodes confirmed by a put command into the tree.
func (s *Session) applyPut(res PutNodesRes) ([]Node, error) {
	if len(res.Nodes) == 0 {
		return nil, fmt.Errorf("put returned no nodes")
	}

	out := make([]Node, 0, len(res.Nodes))

	for _, rec := range res.Nodes {
		node, ok, err := decryptRecord(rec, s.kr)
		if err != nil {
			return nil, err
		} else if !ok {
			return nil, &CryptoError{Op: "key", Handle: rec.Handle, Err: ErrBadKey}
		}

		s.tree.insert(node)

		out = append(out, *node)
	}

	return out, nil
}

// splitParent splits path into its parent path and last segment.
func splitParent(path string) (string, string) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return "/", ""
	}

	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1]
}
