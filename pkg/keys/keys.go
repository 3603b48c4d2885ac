package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"sync"
)

// Embedded EXPK index key material. The same key wraps both the index
// table and every entry payload of an EXPK container.
var indexKey = [16]byte{
	0x6e, 0x65, 0x6f, 0x78, 0x1b, 0x3a, 0x9d, 0x44,
	0xc7, 0x02, 0x58, 0xe1, 0x7f, 0x36, 0xaa, 0x90,
}

// Keys is the EXPK index cipher: a symmetric byte-in/byte-out block
// cipher over 16-byte blocks. Trailing bytes shorter than one block pass
// through unchanged. The zero value is not usable; call New.
type Keys struct {
	block cipher.Block
}

var (
	shared   *Keys
	sharedMu sync.Mutex
)

// New returns the index cipher built from the embedded key material. The
// cipher state is read-only after construction and may be shared across
// workers.
func New() *Keys {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		block, err := aes.NewCipher(indexKey[:])
		if err != nil {
			// 16-byte key; cannot fail.
			panic(err)
		}
		shared = &Keys{block: block}
	}
	return shared
}

// Decrypt decrypts data in place-sized output, one 16-byte block at a
// time. The returned slice has the same length as the input.
func (k *Keys) Decrypt(data []byte) []byte {
	return k.apply(data, k.block.Decrypt)
}

// Encrypt is the inverse of Decrypt.
func (k *Keys) Encrypt(data []byte) []byte {
	return k.apply(data, k.block.Encrypt)
}

func (k *Keys) apply(data []byte, op func(dst, src []byte)) []byte {
	bs := k.block.BlockSize()
	out := make([]byte, len(data))

	n := len(data) / bs * bs
	for i := 0; i < n; i += bs {
		op(out[i:i+bs], data[i:i+bs])
	}
	copy(out[n:], data[n:])
	return out
}
