package mega

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLink(t *testing.T) {
	fileKey, folderKey := RandomBytes(32), RandomBytes(16)

	tests := []struct {
		url  string
		want Link
	}{
		{
			url:  "https://mega.nz/file/AbCdEfGh#" + Base64Encode(fileKey),
			want: Link{Kind: FileLink, Handle: "AbCdEfGh", Key: fileKey},
		},
		{
			url:  "https://mega.nz/folder/XyZ12345#" + Base64Encode(folderKey),
			want: Link{Kind: FolderLink, Handle: "XyZ12345", Key: folderKey},
		},
		{
			url:  "https://mega.nz/folder/XyZ12345#" + Base64Encode(folderKey) + "/folder/sub",
			want: Link{Kind: FolderLink, Handle: "XyZ12345", Key: folderKey},
		},
		{
			url:  "https://mega.nz/#!AbCdEfGh!" + Base64Encode(fileKey),
			want: Link{Kind: FileLink, Handle: "AbCdEfGh", Key: fileKey},
		},
		{
			url:  "https://mega.nz/#F!XyZ12345!" + Base64Encode(folderKey),
			want: Link{Kind: FolderLink, Handle: "XyZ12345", Key: folderKey},
		},
	}

	for _, tt := range tests {
		link, err := ParseLink(tt.url)
		require.NoError(t, err, tt.url)
		require.Equal(t, tt.want, link)
	}
}

func TestParseLink_Invalid(t *testing.T) {
	for _, url := range []string{
		"",
		"https://mega.nz/",
		"https://mega.nz/file/AbCdEfGh",
		"https://mega.nz/file/#" + Base64Encode(RandomBytes(32)),
		"https://mega.nz/file/AbCdEfGh#" + Base64Encode(RandomBytes(16)),
		"https://mega.nz/folder/AbCdEfGh#" + Base64Encode(RandomBytes(32)),
		"https://mega.nz/file/AbCdEfGh#not*base64",
		"https://mega.nz/blog/AbCdEfGh#" + Base64Encode(RandomBytes(32)),
	} {
		_, err := ParseLink(url)
		require.ErrorIs(t, err, ErrBadLink, url)
	}
}

func TestLink_Format(t *testing.T) {
	link := Link{Kind: FolderLink, Handle: "XyZ12345", Key: RandomBytes(16)}

	require.Equal(t, "https://example.com/folder/XyZ12345#"+Base64Encode(link.Key), link.Format("https://example.com/"))

	parsed, err := ParseLink(link.String())
	require.NoError(t, err)
	require.Equal(t, link, parsed)
}

func TestParseLinkOf(t *testing.T) {
	url := Link{Kind: FolderLink, Handle: "XyZ12345", Key: RandomBytes(16)}.String()

	_, err := parseLinkOf(url, FileLink)
	require.ErrorIs(t, err, ErrBadLink)

	link, err := parseLinkOf(url, FolderLink)
	require.NoError(t, err)
	require.Equal(t, "XyZ12345", link.Handle)
}
