package npk

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"

	"github.com/pkg/errors"
)

// Format identifies the container flavor.
type Format int

const (
	FormatNXPK Format = iota
	FormatEXPK
)

func (f Format) String() string {
	if f == FormatEXPK {
		return "EXPK"
	}
	return "NXPK"
}

// Compression selects the per-entry compression codec.
type Compression uint16

const (
	CompressionNone Compression = 0
	CompressionZlib Compression = 1
	CompressionLZ4  Compression = 2
)

// RecordSize is the size of one index record on disk.
const RecordSize = 28

// nxfnSkip is the trailing header block between the index table and the
// NXFN name list.
const nxfnSkip = 16

// Header is the fixed container header following the 4-byte signature.
type Header struct {
	FileCount      uint32
	Unknown        uint32
	EncryptionMode uint32
	HashMode       uint32
	IndexOffset    uint32
}

// Record is one 28-byte index record.
type Record struct {
	Sign           uint32
	Offset         uint32
	Length         uint32
	OriginalLength uint32
	ZCRC           uint32 // parsed, not verified
	CRC            uint32 // parsed, not verified; key seed for flags 3/4
	Compression    Compression
	Flag           uint16
}

// Entry pairs an index record with its position and, when NXFN is
// present, its structural name (raw, backslash-separated).
type Entry struct {
	Record
	Index int
	Name  string
}

// Container is the decoded header plus index of one NPK file.
type Container struct {
	Format  Format
	Header  Header
	Entries []Entry
}

// Cipher is the byte-in/byte-out decryption capability applied to EXPK
// index blocks and payloads.
type Cipher interface {
	Decrypt(data []byte) []byte
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrTruncatedContainer
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrTruncatedContainer
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readFormat(r io.Reader) (Format, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, ErrTruncatedContainer
	}
	switch string(magic[:]) {
	case "NXPK":
		return FormatNXPK, nil
	case "EXPK":
		return FormatEXPK, nil
	}
	return 0, ErrInvalidSignature
}

// Parse reads the container header, index table and optional NXFN name
// list. size is the total container size in bytes; index is required for
// EXPK containers and ignored otherwise.
func Parse(r io.ReadSeeker, size int64, index Cipher) (*Container, error) {
	format, err := readFormat(r)
	if err != nil {
		return nil, err
	}

	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, ErrTruncatedContainer
	}

	if h.Unknown != 0 && h.HashMode != 0 {
		log.Printf("npk: 0x28 record layout (unknown=%d hash_mode=%d), refusing", h.Unknown, h.HashMode)
		return nil, ErrRecordLayout
	}

	indexEnd := int64(h.IndexOffset) + int64(h.FileCount)*RecordSize
	if indexEnd > size {
		return nil, errors.Wrapf(ErrTruncatedContainer, "index table %d..%d exceeds file size %d", h.IndexOffset, indexEnd, size)
	}

	names, err := readNXFN(r, h, size)
	if err != nil {
		return nil, err
	}

	entries, err := readIndex(r, h, format, index, names)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if int64(e.Offset)+int64(e.Length) > size {
			return nil, errors.Wrapf(ErrTruncatedContainer, "entry %d payload %d..%d exceeds file size %d", e.Index, e.Offset, int64(e.Offset)+int64(e.Length), size)
		}
	}

	return &Container{Format: format, Header: h, Entries: entries}, nil
}

// readNXFN reads the NUL-delimited name list that follows the index
// table when encryption_mode is 256. Empty segments are dropped; the
// i-th surviving name pairs with the i-th index record.
func readNXFN(r io.ReadSeeker, h Header, size int64) ([]string, error) {
	if h.EncryptionMode != 256 {
		return nil, nil
	}

	start := int64(h.IndexOffset) + int64(h.FileCount)*RecordSize + nxfnSkip
	if start >= size {
		return nil, nil
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, ErrTruncatedContainer
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrTruncatedContainer
	}

	var names []string
	for _, seg := range bytes.Split(raw, []byte{0}) {
		if len(seg) > 0 {
			names = append(names, string(seg))
		}
	}
	return names, nil
}

func readIndex(r io.ReadSeeker, h Header, format Format, index Cipher, names []string) ([]Entry, error) {
	if _, err := r.Seek(int64(h.IndexOffset), io.SeekStart); err != nil {
		return nil, ErrTruncatedContainer
	}

	raw := make([]byte, int(h.FileCount)*RecordSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, ErrTruncatedContainer
	}

	if format == FormatEXPK {
		if index == nil {
			return nil, ErrIndexDecryptFailure
		}
		raw = index.Decrypt(raw)
		if len(raw) != int(h.FileCount)*RecordSize {
			return nil, ErrIndexDecryptFailure
		}
	}

	br := bytes.NewReader(raw)
	entries := make([]Entry, h.FileCount)
	for i := range entries {
		rec, err := readRecord(br)
		if err != nil {
			return nil, err
		}
		entries[i] = Entry{Record: rec, Index: i}
		if i < len(names) {
			entries[i].Name = names[i]
		}
	}
	return entries, nil
}

func readRecord(r io.Reader) (Record, error) {
	var rec Record
	fields := []*uint32{&rec.Sign, &rec.Offset, &rec.Length, &rec.OriginalLength, &rec.ZCRC, &rec.CRC}
	for _, f := range fields {
		v, err := readUint32(r)
		if err != nil {
			return rec, err
		}
		*f = v
	}
	comp, err := readUint16(r)
	if err != nil {
		return rec, err
	}
	rec.Compression = Compression(comp)
	flag, err := readUint16(r)
	if err != nil {
		return rec, err
	}
	rec.Flag = flag
	return rec, nil
}
