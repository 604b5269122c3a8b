package mega

// NodeType is the kind of a node in the remote tree.
type NodeType int

const (
	FileNode NodeType = iota
	FolderNode
	RootNode
	InboxNode
	RubbishNode
)

// IsContainer reports whether nodes of this type can have children.
func (t NodeType) IsContainer() bool {
	return t != FileNode
}

func (t NodeType) String() string {
	switch t {
	case FileNode:
		return "file"
	case FolderNode:
		return "folder"
	case RootNode:
		return "root"
	case InboxNode:
		return "inbox"
	case RubbishNode:
		return "rubbish"
	default:
		return "unknown"
	}
}

// rootName is the path segment naming a root container.
func (t NodeType) rootName() string {
	switch t {
	case RootNode:
		return "Root"
	case InboxNode:
		return "Inbox"
	case RubbishNode:
		return "Rubbish"
	default:
		return ""
	}
}

// Node is a decrypted entry of the remote tree.
type Node struct {
	Handle    string
	Parent    string
	Owner     string
	Type      NodeType
	Name      string
	Size      int64
	Timestamp int64

	// Previews holds the file attribute handles (thumbnails) attached to the node.
	Previews string

	// SharedBy is the owner's handle when the node is the root of an incoming share.
	SharedBy string

	key         []byte
	fingerprint string
}

// IsFile reports whether the node is a file.
func (n Node) IsFile() bool {
	return n.Type == FileNode
}

// IsFolder reports whether the node can contain other nodes.
func (n Node) IsFolder() bool {
	return n.Type.IsContainer()
}

// NodeRecord is a node as delivered by the service, still encrypted.
type NodeRecord struct {
	Handle    string   `json:"h"`
	Parent    string   `json:"p"`
	Owner     string   `json:"u"`
	Type      NodeType `json:"t"`
	Attrs     string   `json:"a,omitempty"`
	Key       string   `json:"k,omitempty"`
	Size      int64    `json:"s,omitempty"`
	Timestamp int64    `json:"ts"`
	FileAttrs string   `json:"fa,omitempty"`

	// ShareKey is set on share roots: wrapped under the master key for the owner,
	// or under the recipient's public key for an incoming share.
	ShareKey string `json:"sk,omitempty"`

	// SharingUser is set on the root of an incoming share.
	SharingUser string `json:"su,omitempty"`
}

// ShareKeyRecord delivers the share key of an outgoing share, wrapped under the master key.
type ShareKeyRecord struct {
	Handle string `json:"h"`
	Key    string `json:"k"`
}

// ShareRecord describes one recipient of an outgoing share.
type ShareRecord struct {
	Handle string      `json:"h"`
	User   string      `json:"u"`
	Level  AccessLevel `json:"r"`
}

// AccessLevel is the permission granted on a shared folder.
type AccessLevel int

const (
	ReadOnly AccessLevel = iota
	ReadWrite
	FullAccess
)

// ContactRecord is a contact as delivered by the service.
type ContactRecord struct {
	Handle     string     `json:"u"`
	Email      string     `json:"m"`
	Visibility Visibility `json:"c"`
}

// Visibility is the relationship of a contact to the account.
type Visibility int

const (
	HiddenContact Visibility = iota
	VisibleContact
	SelfContact
)

// Contact is a user the account has a relationship with.
type Contact struct {
	Handle     string
	Email      string
	Visibility Visibility
}

type FetchNodesReq struct {
	Action  string `json:"a"`
	C       int    `json:"c"`
	Recurse int    `json:"r"`
}

type FetchNodesRes struct {
	Nodes     []NodeRecord     `json:"f"`
	ShareKeys []ShareKeyRecord `json:"ok"`
	Shares    []ShareRecord    `json:"s"`
	Contacts  []ContactRecord  `json:"u"`
}

// NewNode is one node to create with a put command.
type NewNode struct {
	// Handle is a placeholder for folders, or the upload completion handle for files.
	Handle    string   `json:"h"`
	Type      NodeType `json:"t"`
	Attrs     string   `json:"a"`
	Key       string   `json:"k"`
	FileAttrs string   `json:"fa,omitempty"`
}

// ShareKeyEntry wraps a node key under the key of a share it is being placed into.
type ShareKeyEntry struct {
	Share string `json:"s"`
	Node  string `json:"n,omitempty"`
	Key   string `json:"k"`
}

type PutNodesReq struct {
	Action string          `json:"a"`
	Target string          `json:"t"`
	Nodes  []NewNode       `json:"n"`
	Shares []ShareKeyEntry `json:"cr,omitempty"`
}

type PutNodesRes struct {
	Nodes []NodeRecord `json:"f"`
}

type SetAttrReq struct {
	Action string `json:"a"`
	Node   string `json:"n"`
	Attrs  string `json:"attr"`
}

type MoveReq struct {
	Action string          `json:"a"`
	Node   string          `json:"n"`
	Target string          `json:"t"`
	Shares []ShareKeyEntry `json:"cr,omitempty"`
}

type DeleteReq struct {
	Action string `json:"a"`
	Node   string `json:"n"`
}

type ExportReq struct {
	Action string `json:"a"`
	Node   string `json:"n"`
}

type ShareRecipient struct {
	User  string      `json:"u"`
	Level AccessLevel `json:"r"`
	Key   string      `json:"k,omitempty"`
}

type ShareReq struct {
	Action     string           `json:"a"`
	Node       string           `json:"n"`
	Recipients []ShareRecipient `json:"s"`
	OwnerKey   string           `json:"ok"`
	HandleAuth string           `json:"ha"`
	Keys       []ShareKeyEntry  `json:"cr"`
}

// ExportUser is the pseudo-recipient of a share created for a public folder link.
const ExportUser = "EXP"
