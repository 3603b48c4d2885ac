package extract

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/absencelul/neox-tools/pkg/compress"
	"github.com/absencelul/neox-tools/pkg/npk"
	"github.com/absencelul/neox-tools/pkg/rotor"
)

// The rotor key is baked in, so the table is built once per process and
// shared read-only; sessions copy their own position vectors.
var (
	rotorOnce sync.Once
	rotorInst *rotor.Rotor
	rotorErr  error
)

func fixedRotor() (*rotor.Rotor, error) {
	rotorOnce.Do(func() {
		rotorInst, rotorErr = rotor.NewFixed()
		if rotorErr != nil {
			rotorErr = errors.Wrap(npk.ErrRotorKeyFailure, rotorErr.Error())
		}
	})
	return rotorInst, rotorErr
}

// process runs one entry payload through the pipeline: de-scramble,
// unwrap rot/nxs3, decompress. The returned buffer is ready for sink
// routing.
func (x *Extractor) process(data []byte, e npk.Entry) ([]byte, error) {
	if e.Flag == 3 || e.Flag == 4 {
		if err := Scramble(data, e.Record); err != nil {
			return nil, err
		}
	}

	ext := Sniff(data)

	var err error
	switch ext {
	case "rot":
		rot, rerr := x.rotorInstance()
		if rerr != nil {
			return nil, rerr
		}
		data, err = unwrapRot(rot, data)
		if err != nil {
			return nil, err
		}
	case "nxs3":
		data, err = x.unwrapNXS3(data, e)
		if err != nil {
			return nil, err
		}
	}

	// The rot unwrap inflates inline, so the record codec is already
	// spent for those entries.
	if e.Compression != npk.CompressionNone && ext != "rot" {
		data, err = compress.Entry(data, e.Compression, e.OriginalLength)
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// rotorInstance returns the rotor stack used for rot-wrapped blobs: the
// extractor's own when one was supplied, the shared fixed-key instance
// otherwise.
func (x *Extractor) rotorInstance() (*rotor.Rotor, error) {
	if x.rot != nil {
		return x.rot, nil
	}
	return fixedRotor()
}

// unwrapRot peels the rotor-stream wrapper: decrypt, zlib-inflate, then
// undo the reverse-128 transform.
func unwrapRot(rot *rotor.Rotor, data []byte) ([]byte, error) {
	inflated, err := compress.Zlib(rot.Decrypt(data))
	if err != nil {
		return nil, &npk.DecompressError{Codec: "zlib", Err: err}
	}
	return reverse128(inflated), nil
}

// reverse128 XORs the first 128 bytes with 0x9A and reverses the whole
// sequence.
func reverse128(s []byte) []byte {
	out := make([]byte, len(s))
	copy(out, s)
	for i := 0; i < len(out) && i < 128; i++ {
		out[i] ^= 0x9A
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// unwrapNXS3 hands the blob to the external decoder. By default a
// failure degrades to the raw buffer so the user can inspect it; strict
// mode makes it fatal for the entry.
func (x *Extractor) unwrapNXS3(data []byte, e npk.Entry) ([]byte, error) {
	out, err := decodeNXS3(data)
	if err != nil {
		if x.opts.StrictNXS3 {
			return nil, err
		}
		log.Printf("extract: entry %d (sign %08x): %v, keeping raw nxs3 payload", e.Index, e.Sign, err)
		return data, nil
	}
	return out, nil
}
