package extract

import (
	"github.com/pkg/errors"

	"github.com/absencelul/neox-tools/pkg/npk"
)

// Scramble undoes the per-entry XOR applied to flag-3 and flag-4
// payloads, in place. Both codecs are involutions. Any other flag value
// leaves the payload untouched.
func Scramble(data []byte, rec npk.Record) error {
	switch rec.Flag {
	case 3:
		return scrambleFlag3(data, rec)
	case 4:
		return scrambleFlag4(data, rec)
	}
	return nil
}

func scrambleFlag3(data []byte, rec npk.Record) error {
	b := rec.CRC ^ rec.OriginalLength

	var start, size int
	if rec.Length > 0x80 {
		start = int((rec.CRC >> 1) % (rec.Length - 0x80))
		size = int(2*uint64(rec.OriginalLength)%0x60) + 0x20
	} else {
		start = 0
		size = int(rec.Length)
	}

	if start > len(data) {
		return errors.Wrapf(npk.ErrScrambleOutOfRange, "flag 3 start %d beyond %d bytes", start, len(data))
	}
	// Known-data invariant of the format; clip rather than overrun.
	if start+size > len(data) {
		size = len(data) - start
	}

	var key [0x100]byte
	for k := range key {
		key[k] = byte(uint32(k) + b)
	}
	for j := 0; j < size; j++ {
		data[start+j] ^= key[j%0x100]
	}
	return nil
}

func scrambleFlag4(data []byte, rec npk.Record) error {
	var offset, run int
	if rec.Length >= 0x81 {
		offset = int((rec.OriginalLength >> 1) % (rec.Length - 0x80))
		run = int((rec.CRC<<1)%0x60) + 0x20
	} else {
		offset = 0
		run = int(rec.Length)
	}

	if offset > len(data) {
		return errors.Wrapf(npk.ErrScrambleOutOfRange, "flag 4 offset %d beyond %d bytes", offset, len(data))
	}

	end := offset + run
	if int(rec.OriginalLength) < end {
		end = int(rec.OriginalLength)
	}
	if end > len(data) {
		end = len(data)
	}

	k := byte(rec.OriginalLength ^ rec.CRC)
	for i := offset; i < end; i++ {
		data[i] ^= k
		k++
	}
	return nil
}
