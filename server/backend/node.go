package backend

import (
	"strings"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/megalib/go-mega"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type node struct {
	handle string
	parent string
	owner  string
	typ    mega.NodeType

	attrs     string
	keys      []keyElem
	size      int64
	ts        int64
	fileAttrs string

	// blob is the id of the stored ciphertext of a file.
	blob string

	// seq orders nodes by creation so that listings keep delivery order.
	seq int
}

// keyElem is the node key wrapped for a user (by their master key) or for a share.
type keyElem struct {
	owner string
	key   string
}

func (n *node) setKey(owner, key string) {
	if idx := xslices.IndexFunc(n.keys, func(e keyElem) bool { return e.owner == owner }); idx >= 0 {
		n.keys[idx].key = key
	} else {
		n.keys = append(n.keys, keyElem{owner: owner, key: key})
	}
}

func (n *node) keyString(only func(owner string) bool) string {
	elems := xslices.Filter(n.keys, func(e keyElem) bool { return only == nil || only(e.owner) })

	return strings.Join(xslices.Map(elems, func(e keyElem) string { return e.owner + ":" + e.key }), "/")
}

func (n *node) toRecord(only func(owner string) bool) mega.NodeRecord {
	return mega.NodeRecord{
		Handle:    n.handle,
		Parent:    n.parent,
		Owner:     n.owner,
		Type:      n.typ,
		Attrs:     n.attrs,
		Key:       n.keyString(only),
		Size:      n.size,
		Timestamp: n.ts,
		FileAttrs: n.fileAttrs,
	}
}

// share is a folder shared with other accounts or exported as a public folder.
type share struct {
	owner      string
	ownerKey   string
	handleAuth string
	recipients map[string]recipient
}

type recipient struct {
	level mega.AccessLevel

	// key is the share key encrypted for the recipient's public key.
	key string
}

// newContainer creates a root container. The caller holds nodeLock.
func (b *Backend) newContainer(owner string, typ mega.NodeType) string {
	n := &node{
		handle: newHandle(6, b.nodes),
		owner:  owner,
		typ:    typ,
		ts:     time.Now().Unix(),
		seq:    b.nextSeq(),
	}

	b.nodes[n.handle] = n

	return n.handle
}

// children returns the children of handle in creation order. The caller holds nodeLock.
func (b *Backend) children(handle string) []*node {
	out := xslices.Filter(maps.Values(b.nodes), func(n *node) bool { return n.parent == handle })

	slices.SortFunc(out, func(x, y *node) bool { return x.seq < y.seq })

	return out
}

// subtree returns handle and its descendants in pre-order. The caller holds nodeLock.
func (b *Backend) subtree(handle string) []*node {
	n, ok := b.nodes[handle]
	if !ok {
		return nil
	}

	out := []*node{n}

	for _, child := range b.children(handle) {
		out = append(out, b.subtree(child.handle)...)
	}

	return out
}

// ancestors returns handle and its ancestors up to its root container. The caller holds nodeLock.
func (b *Backend) ancestors(handle string) []*node {
	var out []*node

	for n, ok := b.nodes[handle]; ok && len(out) <= len(b.nodes); n, ok = b.nodes[n.parent] {
		out = append(out, n)
	}

	return out
}

// access returns the level at which user may use the node at handle. Owners of the tree the
// node lives in have full access; others only get what a share above the node grants them.
func (b *Backend) access(user, handle string) (mega.AccessLevel, bool) {
	anc := b.ancestors(handle)
	if len(anc) == 0 {
		return 0, false
	}

	if top := anc[len(anc)-1]; top.typ.IsContainer() && top.parent == "" && top.owner == user {
		return mega.FullAccess, true
	}

	for _, n := range anc {
		if sh, ok := b.shares[n.handle]; ok {
			if r, ok := sh.recipients[user]; ok {
				return r.level, true
			}
		}
	}

	return 0, false
}

func (b *Backend) require(user, handle string, level mega.AccessLevel) (*node, error) {
	n, ok := b.nodes[handle]
	if !ok {
		return nil, codeError(mega.NoEntry, "node %s not found", handle)
	}

	if got, ok := b.access(user, handle); !ok || got < level {
		return nil, codeError(mega.AccessDenied, "no access to %s", handle)
	}

	return n, nil
}

// Fetch returns every node an account can see, with its shares and contacts.
func (b *Backend) Fetch(user string) (mega.FetchNodesRes, error) {
	roots, err := withAcc(b, user, func(acc *account) ([]string, error) {
		return []string{acc.root, acc.inbox, acc.rubbish}, nil
	})
	if err != nil {
		return mega.FetchNodesRes{}, err
	}

	contacts, err := b.Contacts(user)
	if err != nil {
		return mega.FetchNodesRes{}, err
	}

	return readNodes(b, func(nodes map[string]*node) (mega.FetchNodesRes, error) {
		res := mega.FetchNodesRes{Contacts: contacts}

		for _, root := range roots {
			for _, n := range b.subtree(root) {
				res.Nodes = append(res.Nodes, n.toRecord(nil))
			}
		}

		for _, handle := range b.sortedShares() {
			sh := b.shares[handle]

			if sh.owner == user {
				res.ShareKeys = append(res.ShareKeys, mega.ShareKeyRecord{Handle: handle, Key: sh.ownerKey})

				for _, u := range maps.Keys(sh.recipients) {
					res.Shares = append(res.Shares, mega.ShareRecord{Handle: handle, User: u, Level: sh.recipients[u].level})
				}

				continue
			}

			r, ok := sh.recipients[user]
			if !ok {
				continue
			}

			for i, n := range b.subtree(handle) {
				rec := n.toRecord(nil)

				if i == 0 {
					rec.SharingUser, rec.ShareKey = sh.owner, r.key
				}

				res.Nodes = append(res.Nodes, rec)
			}
		}

		return res, nil
	})
}

func (b *Backend) sortedShares() []string {
	handles := maps.Keys(b.shares)

	slices.SortFunc(handles, func(x, y string) bool { return b.nodes[x].seq < b.nodes[y].seq })

	return handles
}

// FetchFolder returns the subtree behind a public folder handle. Only key elements wrapped
// under the folder's share key are delivered.
func (b *Backend) FetchFolder(ph string) (mega.FetchNodesRes, error) {
	return readNodes(b, func(nodes map[string]*node) (mega.FetchNodesRes, error) {
		root, err := b.folderOf(ph)
		if err != nil {
			return mega.FetchNodesRes{}, err
		}

		return mega.FetchNodesRes{
			Nodes: xslices.Map(b.subtree(root), func(n *node) mega.NodeRecord {
				return n.toRecord(func(owner string) bool { return owner == root })
			}),
		}, nil
	})
}

// folderOf resolves a public folder handle. The caller holds nodeLock.
func (b *Backend) folderOf(ph string) (string, error) {
	handle, ok := b.links[ph]
	if !ok {
		return "", codeError(mega.NoEntry, "unknown public handle %s", ph)
	}

	if n, ok := b.nodes[handle]; !ok || n.typ != mega.FolderNode {
		return "", codeError(mega.NoEntry, "public handle %s is not a folder", ph)
	}

	if sh, ok := b.shares[handle]; !ok || !has(sh.recipients, mega.ExportUser) {
		return "", codeError(mega.AccessDenied, "folder %s is not exported", handle)
	}

	return handle, nil
}

// Put creates nodes under req.Target. File nodes consume the completion handle of a
// finished upload.
func (b *Backend) Put(user string, req mega.PutNodesReq) (mega.PutNodesRes, error) {
	if len(req.Nodes) == 0 {
		return mega.PutNodesRes{}, codeError(mega.BadArguments, "no nodes")
	}

	blobs := make(map[string]completedUpload)

	for _, nn := range req.Nodes {
		if nn.Type != mega.FileNode {
			continue
		}

		up, err := b.takeCompletion(nn.Handle)
		if err != nil {
			return mega.PutNodesRes{}, err
		}

		blobs[nn.Handle] = up
	}

	return withNodes(b, func(nodes map[string]*node) (mega.PutNodesRes, error) {
		target, err := b.require(user, req.Target, mega.ReadWrite)
		if err != nil {
			return mega.PutNodesRes{}, err
		}

		if !target.typ.IsContainer() {
			return mega.PutNodesRes{}, codeError(mega.BadArguments, "%s is not a folder", req.Target)
		}

		var res mega.PutNodesRes

		for _, nn := range req.Nodes {
			if nn.Type != mega.FileNode && nn.Type != mega.FolderNode {
				return mega.PutNodesRes{}, codeError(mega.BadArguments, "cannot create node of type %d", nn.Type)
			}

			n := &node{
				handle:    newHandle(6, nodes),
				parent:    target.handle,
				owner:     user,
				typ:       nn.Type,
				attrs:     nn.Attrs,
				keys:      []keyElem{{owner: user, key: nn.Key}},
				ts:        time.Now().Unix(),
				fileAttrs: nn.FileAttrs,
				seq:       b.nextSeq(),
			}

			if up, ok := blobs[nn.Handle]; ok {
				n.blob, n.size = up.blob, up.size
			}

			b.applyShareKeys(req.Shares, nn.Handle, n)

			nodes[n.handle] = n

			res.Nodes = append(res.Nodes, n.toRecord(nil))
		}

		return res, nil
	})
}

// applyShareKeys adds the key elements of entries meant for ref to n.
func (b *Backend) applyShareKeys(entries []mega.ShareKeyEntry, ref string, n *node) {
	for _, e := range entries {
		if e.Node == ref && has(b.shares, e.Share) {
			n.setKey(e.Share, e.Key)
		}
	}
}

// SetAttrs replaces the attribute blob of a node.
func (b *Backend) SetAttrs(user string, req mega.SetAttrReq) error {
	_, err := withNodes(b, func(nodes map[string]*node) (struct{}, error) {
		n, err := b.require(user, req.Node, mega.ReadWrite)
		if err != nil {
			return struct{}{}, err
		}

		if n.parent == "" {
			return struct{}{}, codeError(mega.AccessDenied, "cannot rename a root container")
		}

		n.attrs = req.Attrs

		return struct{}{}, nil
	})

	return err
}

// Move reparents a node. Moving a node below itself is rejected.
func (b *Backend) Move(user string, req mega.MoveReq) error {
	_, err := withNodes(b, func(nodes map[string]*node) (struct{}, error) {
		n, err := b.require(user, req.Node, mega.FullAccess)
		if err != nil {
			return struct{}{}, err
		}

		target, err := b.require(user, req.Target, mega.ReadWrite)
		if err != nil {
			return struct{}{}, err
		}

		if n.parent == "" || !target.typ.IsContainer() {
			return struct{}{}, codeError(mega.BadArguments, "cannot move %s into %s", req.Node, req.Target)
		}

		if xslices.IndexFunc(b.ancestors(target.handle), func(a *node) bool { return a.handle == n.handle }) >= 0 {
			return struct{}{}, codeError(mega.Circular, "cannot move %s below itself", req.Node)
		}

		n.parent = target.handle

		for _, sub := range b.subtree(n.handle) {
			b.applyShareKeys(req.Shares, sub.handle, sub)
		}

		return struct{}{}, nil
	})

	return err
}

// Delete removes a node with its subtree, its shares and its public links.
func (b *Backend) Delete(user, handle string) error {
	_, err := withNodes(b, func(nodes map[string]*node) (struct{}, error) {
		n, err := b.require(user, handle, mega.FullAccess)
		if err != nil {
			return struct{}{}, err
		}

		if n.parent == "" {
			return struct{}{}, codeError(mega.AccessDenied, "cannot delete a root container")
		}

		for _, sub := range b.subtree(handle) {
			delete(nodes, sub.handle)
			delete(b.shares, sub.handle)

			for _, ph := range maps.Keys(b.links) {
				if b.links[ph] == sub.handle {
					delete(b.links, ph)
				}
			}
		}

		return struct{}{}, nil
	})

	return err
}

// Export returns the public handle of a node, creating it on first export. A folder must be
// shared with the export pseudo-user first, so that a share key exists for its link.
func (b *Backend) Export(user, handle string) (string, error) {
	return withNodes(b, func(nodes map[string]*node) (string, error) {
		n, err := b.require(user, handle, mega.FullAccess)
		if err != nil {
			return "", err
		}

		if n.parent == "" {
			return "", codeError(mega.AccessDenied, "cannot export a root container")
		}

		if n.typ == mega.FolderNode {
			if sh, ok := b.shares[handle]; !ok || !has(sh.recipients, mega.ExportUser) {
				return "", codeError(mega.AccessDenied, "folder %s is not shared for export", handle)
			}
		}

		for ph, h := range b.links {
			if h == handle {
				return ph, nil
			}
		}

		ph := newHandle(6, b.links)

		b.links[ph] = handle

		return ph, nil
	})
}

// Share adds recipients to the share rooted at a folder, creating the share if needed.
func (b *Backend) Share(user string, req mega.ShareReq) error {
	recipients := make(map[string]recipient, len(req.Recipients))

	for _, r := range req.Recipients {
		if r.User == mega.ExportUser {
			recipients[mega.ExportUser] = recipient{level: mega.ReadOnly}
			continue
		}

		pk, err := b.GetPublicKey(r.User)
		if err != nil {
			return err
		}

		if r.Key == "" {
			return codeError(mega.BadArguments, "missing share key for %s", r.User)
		}

		recipients[pk.Handle] = recipient{level: r.Level, key: r.Key}
	}

	_, err := withNodes(b, func(nodes map[string]*node) (struct{}, error) {
		n, err := b.require(user, req.Node, mega.FullAccess)
		if err != nil {
			return struct{}{}, err
		}

		if n.typ != mega.FolderNode {
			return struct{}{}, codeError(mega.BadArguments, "only folders can be shared")
		}

		sh, ok := b.shares[n.handle]
		if !ok {
			sh = &share{owner: user, recipients: make(map[string]recipient)}
			b.shares[n.handle] = sh
		} else if sh.ownerKey != req.OwnerKey || sh.handleAuth != req.HandleAuth {
			return struct{}{}, codeError(mega.BadCryptoKey, "share key of %s does not match", n.handle)
		}

		sh.ownerKey, sh.handleAuth = req.OwnerKey, req.HandleAuth

		maps.Copy(sh.recipients, recipients)

		for _, sub := range b.subtree(n.handle) {
			b.applyShareKeys(req.Keys, sub.handle, sub)
		}

		return struct{}{}, nil
	})

	return err
}

// download is a file resolved for a download URL.
type download struct {
	blob string
	res  mega.DownloadURLRes
}

// Download resolves what a download URL is requested for: a node visible to user, a node
// inside the public folder, or the file behind the public handle req.Public. It returns the
// id of the file's stored ciphertext.
func (b *Backend) Download(user, folder string, req mega.DownloadURLReq) (string, mega.DownloadURLRes, error) {
	dl, err := readNodes(b, func(nodes map[string]*node) (download, error) {
		var (
			n  *node
			ok bool
		)

		switch {
		case req.Public != "":
			var handle string

			if handle, ok = b.links[req.Public]; ok {
				n, ok = nodes[handle]
			}

		case folder != "":
			root, err := b.folderOf(folder)
			if err != nil {
				return download{}, err
			}

			ok = xslices.IndexFunc(b.ancestors(req.Node), func(a *node) bool { return a.handle == root }) >= 0
			n = nodes[req.Node]

		default:
			var err error

			if n, err = b.require(user, req.Node, mega.ReadOnly); err != nil {
				return download{}, err
			}

			ok = true
		}

		if !ok || n == nil {
			return download{}, codeError(mega.NoEntry, "no such file")
		}

		if n.typ != mega.FileNode {
			return download{}, codeError(mega.BadArguments, "%s is not a file", n.handle)
		}

		return download{blob: n.blob, res: mega.DownloadURLRes{Size: n.size, Attrs: n.attrs}}, nil
	})
	if err != nil {
		return "", mega.DownloadURLRes{}, err
	}

	return dl.blob, dl.res, nil
}

// nextSeq returns the next creation sequence number. The caller holds nodeLock.
func (b *Backend) nextSeq() int {
	b.seq++
	return b.seq
}
