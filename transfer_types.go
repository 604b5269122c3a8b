package mega

type DownloadURLReq struct {
	Action string `json:"a"`
	G      int    `json:"g"`

	// Node is set for nodes of an account or of a public folder.
	Node string `json:"n,omitempty"`

	// Public is set for a single file reached through a public link.
	Public string `json:"p,omitempty"`
}

type DownloadURLRes struct {
	URL   string `json:"g"`
	Size  int64  `json:"s"`
	Attrs string `json:"at"`
}

type UploadURLReq struct {
	Action string `json:"a"`
	Size   int64  `json:"s"`
}

type UploadURLRes struct {
	URL string `json:"p"`
}

type AttrUploadReq struct {
	Action string `json:"a"`
	Size   int    `json:"s"`
}

// Direction labels the two kinds of transfers.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)
