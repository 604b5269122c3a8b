package mega

import (
	"context"
	"fmt"
)

// Export creates a public link to the node at path. Folder links carry a share key created
// for the folder; file links carry the file key.
func (s *Session) Export(ctx context.Context, path string) (string, error) {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	node, err := s.mutableAt(path)
	if err != nil {
		return "", err
	}

	link := Link{Kind: FileLink, Key: node.key}

	if node.IsFolder() {
		shareKey, err := s.share(ctx, node, ShareRecipient{User: ExportUser, Level: ReadOnly}, nil)
		if err != nil {
			return "", err
		}

		link = Link{Kind: FolderLink, Key: shareKey}
	}

	var ph string

	if err := s.call(ctx, ExportReq{Action: "l", Node: node.Handle}, &ph); err != nil {
		return "", err
	}

	link.Handle = ph

	return link.Format(s.m.linkHost), nil
}

// ShareFolder shares the folder at path with the account registered under email.
// The share key is sent encrypted for the recipient's public key.
func (s *Session) ShareFolder(ctx context.Context, path, email string, level AccessLevel) error {
	handle, pub, err := s.GetPublicKey(ctx, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("failed to get public key of %s: %w", email, err)
	}

	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	node, err := s.mutableAt(path)
	if err != nil {
		return err
	}

	if !node.IsFolder() {
		return fmt.Errorf("%s: %w", path, ErrNotContainer)
	}

	_, err = s.share(ctx, node, ShareRecipient{User: handle, Level: level}, func(shareKey []byte) (string, error) {
		enc, err := RSAEncrypt(pub, shareKey)
		if err != nil {
			return "", &CryptoError{Op: "share key", Handle: node.Handle, Err: err}
		}

		return Base64Encode(enc), nil
	})

	return err
}

// share adds a recipient to the share rooted at node, creating the share key if the folder is
// not shared yet. wrapFor, if set, wraps the share key for the recipient. The caller holds
// the tree lock.
func (s *Session) share(ctx context.Context, node *Node, to ShareRecipient, wrapFor func([]byte) (string, error)) ([]byte, error) {
	shareKey, ok := s.kr.shareKey(node.Handle)
	if !ok {
		shareKey = RandomBytes(16)
	}

	if wrapFor != nil {
		key, err := wrapFor(shareKey)
		if err != nil {
			return nil, err
		}

		to.Key = key
	}

	ownerKey, err := EncryptKey(s.master, shareKey)
	if err != nil {
		return nil, err
	}

	ha, err := handleAuth(shareKey, node.Handle)
	if err != nil {
		return nil, err
	}

	var keys []ShareKeyEntry

	for _, n := range s.tree.subtree(node.Handle) {
		enc, err := EncryptKey(shareKey, n.key)
		if err != nil {
			return nil, err
		}

		keys = append(keys, ShareKeyEntry{Share: node.Handle, Node: n.Handle, Key: Base64Encode(enc)})
	}

	req := ShareReq{
		Action:     "s2",
		Node:       node.Handle,
		Recipients: []ShareRecipient{to},
		OwnerKey:   Base64Encode(ownerKey),
		HandleAuth: ha,
		Keys:       keys,
	}

	if err := s.call(ctx, req, nil); err != nil {
		return nil, err
	}

	s.kr.setShareKey(node.Handle, shareKey)

	return shareKey, nil
}

// handleAuth proves knowledge of the share key for the share rooted at handle.
func handleAuth(shareKey []byte, handle string) (string, error) {
	buf := make([]byte, 16)
	copy(buf, handle+handle)

	enc, err := EncryptKey(shareKey, buf)
	if err != nil {
		return "", err
	}

	return Base64Encode(enc), nil
}
