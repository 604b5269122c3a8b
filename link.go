package mega

import (
	"fmt"
	"net/url"
	"strings"
)

// LinkKind tells what a public link points to.
type LinkKind int

const (
	FileLink LinkKind = iota
	FolderLink
)

func (k LinkKind) String() string {
	if k == FolderLink {
		return "folder"
	}

	return "file"
}

// Link is a parsed public link. Key comes from the URL fragment and is never sent to the service.
type Link struct {
	Kind   LinkKind
	Handle string
	Key    []byte
}

// ParseLink parses "{host}/file/{handle}#{key}" and "{host}/folder/{handle}#{key}" links,
// as well as the legacy "#!handle!key" and "#F!handle!key" forms.
func ParseLink(rawURL string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrBadLink, err)
	}

	var (
		kind        LinkKind
		handle, key string
	)

	switch segs := splitPath(u.Path); {
	case len(segs) >= 2 && segs[0] == "file":
		kind, handle, key = FileLink, segs[1], u.Fragment

	case len(segs) >= 2 && segs[0] == "folder":
		kind, handle, key = FolderLink, segs[1], u.Fragment

	case strings.HasPrefix(u.Fragment, "F!"):
		kind = FolderLink
		handle, key, _ = strings.Cut(strings.TrimPrefix(u.Fragment, "F!"), "!")

	case strings.HasPrefix(u.Fragment, "!"):
		kind = FileLink
		handle, key, _ = strings.Cut(strings.TrimPrefix(u.Fragment, "!"), "!")

	default:
		return Link{}, fmt.Errorf("%w: unrecognised link %q", ErrBadLink, u.Redacted())
	}

	// Folder links may point at a subfolder ("#key/folder/sub"); only the key is used.
	key, _, _ = strings.Cut(key, "/")

	if handle == "" || key == "" {
		return Link{}, fmt.Errorf("%w: missing handle or key", ErrBadLink)
	}

	raw, err := Base64Decode(key)
	if err != nil {
		return Link{}, fmt.Errorf("%w: bad key: %v", ErrBadLink, err)
	}

	switch {
	case kind == FileLink && len(raw) != 32:
		return Link{}, fmt.Errorf("%w: file key has %d bytes", ErrBadLink, len(raw))

	case kind == FolderLink && len(raw) != 16:
		return Link{}, fmt.Errorf("%w: folder key has %d bytes", ErrBadLink, len(raw))
	}

	return Link{Kind: kind, Handle: handle, Key: raw}, nil
}

// String formats the link in its current form.
func (l Link) String() string {
	return l.Format(DefaultLinkHost)
}

// Format formats the link against host.
func (l Link) Format(host string) string {
	return fmt.Sprintf("%s/%s/%s#%s", strings.TrimRight(host, "/"), l.Kind, l.Handle, Base64Encode(l.Key))
}
