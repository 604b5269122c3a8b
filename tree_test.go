package mega

import (
	"testing"

	"github.com/bradenaw/juniper/xslices"
	"github.com/stretchr/testify/require"
)

// treeFixture builds encrypted records of an account owned by "me".
type treeFixture struct {
	t      *testing.T
	master []byte
	recs   []NodeRecord
}

func newTreeFixture(t *testing.T) *treeFixture {
	return &treeFixture{
		t:      t,
		master: RandomBytes(16),
		recs: []NodeRecord{
			{Handle: "root", Owner: "me", Type: RootNode},
			{Handle: "inbox", Owner: "me", Type: InboxNode},
			{Handle: "bin", Owner: "me", Type: RubbishNode},
		},
	}
}

func (f *treeFixture) add(handle, parent string, typ NodeType, name string) {
	size := 16
	if typ == FileNode {
		size = 32
	}

	key := RandomBytes(size)

	enc, err := EncryptKey(f.master, key)
	require.NoError(f.t, err)

	attrs, err := EncryptAttributes(key, Attributes{Name: name})
	require.NoError(f.t, err)

	f.recs = append(f.recs, NodeRecord{
		Handle: handle,
		Parent: parent,
		Owner:  "me",
		Type:   typ,
		Attrs:  attrs,
		Key:    "me:" + Base64Encode(enc),
	})
}

func (f *treeFixture) build() *tree {
	tr, err := buildTree(f.recs, newKeyRing("me", f.master, nil), isAccountRoot, true)
	require.NoError(f.t, err)

	return tr
}

func names(nodes []Node) []string {
	return xslices.Map(nodes, func(n Node) string { return n.Name })
}

func TestTree_Paths(t *testing.T) {
	f := newTreeFixture(t)

	f.add("docs", "root", FolderNode, "docs")
	f.add("a", "docs", FileNode, "a.txt")
	f.add("sub", "docs", FolderNode, "sub")
	f.add("b", "sub", FileNode, "b.txt")

	tr := f.build()

	node, ok := tr.stat("/Root/docs/sub/b.txt")
	require.True(t, ok)
	require.Equal(t, "b", node.Handle)
	require.True(t, node.IsFile())

	// Empty segments are ignored.
	node, ok = tr.stat("//Root//docs/")
	require.True(t, ok)
	require.Equal(t, "docs", node.Handle)

	_, ok = tr.stat("/Root/docs/missing")
	require.False(t, ok)

	// A file cannot be traversed.
	_, ok = tr.stat("/Root/docs/a.txt/x")
	require.False(t, ok)

	// The virtual top is not a node.
	_, ok = tr.stat("/")
	require.False(t, ok)

	top, err := tr.list("/", false)
	require.NoError(t, err)
	require.Equal(t, []string{"Root", "Inbox", "Rubbish"}, names(top))

	kids, err := tr.list("/Root/docs", false)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "sub"}, names(kids))

	all, err := tr.list("/Root", true)
	require.NoError(t, err)
	require.Equal(t, []string{"docs", "a.txt", "sub", "b.txt"}, names(all))

	_, err = tr.list("/Root/nope", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTree_AnyOrder(t *testing.T) {
	f := newTreeFixture(t)

	f.add("docs", "root", FolderNode, "docs")
	f.add("sub", "docs", FolderNode, "sub")
	f.add("b", "sub", FileNode, "b.txt")

	// Children delivered before their parents.
	for i, j := 0, len(f.recs)-1; i < j; i, j = i+1, j-1 {
		f.recs[i], f.recs[j] = f.recs[j], f.recs[i]
	}

	tr := f.build()

	node, ok := tr.stat("/Root/docs/sub/b.txt")
	require.True(t, ok)
	require.Equal(t, "b", node.Handle)
	require.Empty(t, tr.orphans)
}

func TestTree_Orphans(t *testing.T) {
	f := newTreeFixture(t)

	f.add("docs", "root", FolderNode, "docs")
	f.add("lost", "gone", FolderNode, "lost")
	f.add("inner", "lost", FileNode, "inner.txt")

	tr := f.build()

	require.ElementsMatch(t, []string{"lost", "inner"}, tr.orphans)

	_, ok := tr.get("lost")
	require.False(t, ok)

	_, ok = tr.stat("/Root/docs")
	require.True(t, ok)
}

func TestTree_Undecryptable(t *testing.T) {
	f := newTreeFixture(t)

	f.add("docs", "root", FolderNode, "docs")
	f.add("child", "docs", FileNode, "child.txt")

	// Wrapped by a key the ring does not hold.
	f.recs[3].Key = "someone:" + Base64Encode(RandomBytes(16))

	tr := f.build()

	require.Equal(t, []string{"docs"}, tr.undecryptable)
	require.Empty(t, tr.orphans)

	_, ok := tr.stat("/Root/docs/child.txt")
	require.False(t, ok)
}

func TestTree_WrongKey(t *testing.T) {
	f := newTreeFixture(t)

	f.add("docs", "root", FolderNode, "docs")

	enc, err := EncryptKey(f.master, RandomBytes(16))
	require.NoError(t, err)

	// The key unwraps but does not decrypt the attributes.
	f.recs[3].Key = "me:" + Base64Encode(enc)

	_, err = buildTree(f.recs, newKeyRing("me", f.master, nil), isAccountRoot, true)
	require.ErrorIs(t, err, ErrBadKey)
}

func TestTree_SiblingCollision(t *testing.T) {
	f := newTreeFixture(t)

	f.add("first", "root", FileNode, "same.txt")
	f.add("second", "root", FileNode, "same.txt")

	tr := f.build()

	node, ok := tr.stat("/Root/same.txt")
	require.True(t, ok)
	require.Equal(t, "first", node.Handle)

	kids, err := tr.list("/Root", false)
	require.NoError(t, err)
	require.Len(t, kids, 2)
}

func TestTree_Mutations(t *testing.T) {
	f := newTreeFixture(t)

	f.add("docs", "root", FolderNode, "docs")
	f.add("sub", "docs", FolderNode, "sub")
	f.add("b", "sub", FileNode, "b.txt")
	f.add("other", "root", FolderNode, "other")

	tr := f.build()

	tr.rename("b", "c.txt")

	_, ok := tr.stat("/Root/docs/sub/c.txt")
	require.True(t, ok)

	tr.move("sub", "other")

	_, ok = tr.stat("/Root/other/sub/c.txt")
	require.True(t, ok)

	_, ok = tr.stat("/Root/docs/sub")
	require.False(t, ok)

	require.Equal(t, []string{"b", "sub", "other", "root"}, tr.ancestors("b"))

	tr.remove("other")

	_, ok = tr.get("b")
	require.False(t, ok)

	all, err := tr.list("/Root", true)
	require.NoError(t, err)
	require.Equal(t, []string{"docs"}, names(all))
}

func TestTree_Normalization(t *testing.T) {
	f := newTreeFixture(t)

	f.add("cafe", "root", FolderNode, "caf\u00e9")

	tr := f.build()

	_, ok := tr.stat("/Root/cafe\u0301")
	require.True(t, ok)
}
