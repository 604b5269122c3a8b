package mega

import (
	"fmt"

	"github.com/docker/go-units"
)

type UserReq struct {
	Action string `json:"a"`
}

type User struct {
	Handle string `json:"u"`
	Email  string `json:"email"`
	Name   string `json:"name"`

	// Since is the account creation time.
	Since int64 `json:"since"`
}

type QuotaReq struct {
	Action  string `json:"a"`
	Storage int    `json:"strg"`
}

type QuotaRes struct {
	Total int64 `json:"mstrg"`
	Used  int64 `json:"cstrg"`
}

// Quota is the storage allowance of an account, in bytes.
type Quota struct {
	Total int64
	Used  int64
}

// Free returns the number of bytes still available.
func (q Quota) Free() int64 {
	if q.Used > q.Total {
		return 0
	}

	return q.Total - q.Used
}

func (q Quota) String() string {
	return fmt.Sprintf("%s of %s used", units.BytesSize(float64(q.Used)), units.BytesSize(float64(q.Total)))
}

type PublicKeyReq struct {
	Action string `json:"a"`
	User   string `json:"u"`
}

type PublicKeyRes struct {
	Handle    string `json:"u"`
	PublicKey string `json:"pubk"`
}
