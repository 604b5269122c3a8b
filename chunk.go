package mega

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	// chunkUnit is the size of the first chunk; each following chunk grows by one unit.
	chunkUnit = 128 << 10

	// maxChunkSize caps chunk growth; every chunk past the eighth has this size.
	maxChunkSize = 8 * chunkUnit
)

// Chunk is one independently encrypted byte range of a file.
type Chunk struct {
	Index  int
	Offset int64
	Size   int
}

// End returns the offset of the last byte in the chunk.
func (c Chunk) End() int64 {
	return c.Offset + int64(c.Size) - 1
}

// Chunks returns the protocol chunk boundaries of a file of the given size.
// An empty file has a single empty chunk so that it still produces a completion.
func Chunks(size int64) []Chunk {
	if size == 0 {
		return []Chunk{{}}
	}

	var (
		out    []Chunk
		offset int64
	)

	for next := int64(chunkUnit); offset < size; {
		n := next
		if offset+n > size {
			n = size - offset
		}

		out = append(out, Chunk{Index: len(out), Offset: offset, Size: int(n)})

		offset += n

		if next < maxChunkSize {
			next += chunkUnit
		}
	}

	return out
}

// chunkCipher encrypts, decrypts and authenticates chunks of one file.
type chunkCipher struct {
	block cipher.Block
	nonce []byte
}

func newChunkCipher(key FileKey) (*chunkCipher, error) {
	block, err := aes.NewCipher(key.AESKey())
	if err != nil {
		return nil, &CryptoError{Op: "content key", Err: err}
	}

	return &chunkCipher{block: block, nonce: key.Nonce()}, nil
}

// xor applies the CTR keystream positioned at offset to data in place.
// The same operation encrypts and decrypts.
func (c *chunkCipher) xor(offset int64, data []byte) {
	if offset%aes.BlockSize != 0 {
		panic(fmt.Sprintf("chunk offset %d is not block aligned", offset))
	}

	iv := make([]byte, aes.BlockSize)
	copy(iv, c.nonce)
	binary.BigEndian.PutUint64(iv[8:], uint64(offset/aes.BlockSize))

	cipher.NewCTR(c.block, iv).XORKeyStream(data, data)
}

// mac computes the CBC-MAC of a plaintext chunk, seeded with the file nonce.
func (c *chunkCipher) mac(plain []byte) [16]byte {
	var mac [16]byte

	copy(mac[:8], c.nonce)
	copy(mac[8:], c.nonce)

	for i := 0; i < len(plain); i += aes.BlockSize {
		var blk [16]byte

		copy(blk[:], plain[i:])

		for j := range mac {
			mac[j] ^= blk[j]
		}

		c.block.Encrypt(mac[:], mac[:])
	}

	return mac
}

// macAccumulator collects chunk MACs in any order and condenses them in index order.
type macAccumulator struct {
	macs [][16]byte
	have []bool
	left int
	lock sync.Mutex
}

func newMACAccumulator(n int) *macAccumulator {
	return &macAccumulator{
		macs: make([][16]byte, n),
		have: make([]bool, n),
		left: n,
	}
}

func (a *macAccumulator) set(index int, mac [16]byte) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if !a.have[index] {
		a.have[index] = true
		a.left--
	}

	a.macs[index] = mac
}

func (a *macAccumulator) done(index int) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.have[index]
}

func (a *macAccumulator) complete() bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.left == 0
}

// metaMAC condenses the chunk MACs into the 8-byte value carried in a file key.
func (a *macAccumulator) metaMAC(block cipher.Block) ([]byte, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.left != 0 {
		return nil, fmt.Errorf("%d chunks missing", a.left)
	}

	var acc [16]byte

	for _, mac := range a.macs {
		for j := range acc {
			acc[j] ^= mac[j]
		}

		block.Encrypt(acc[:], acc[:])
	}

	out := make([]byte, 8)

	for i := 0; i < 4; i++ {
		out[i] = acc[i] ^ acc[i+4]
		out[i+4] = acc[i+8] ^ acc[i+12]
	}

	return out, nil
}
