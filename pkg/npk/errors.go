package npk

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds surfaced by the container parser and the extraction
// pipeline. Header/index errors abort the container; pipeline errors are
// reported per entry and skipped.
var (
	ErrInvalidSignature    = errors.New("not a valid NXPK/EXPK file")
	ErrTruncatedContainer  = errors.New("read past end of container")
	ErrIndexDecryptFailure = errors.New("index block decryption failed")
	ErrRecordLayout        = errors.New("unsupported 0x28 index record layout")
	ErrScrambleOutOfRange  = errors.New("scramble region out of range")
	ErrRotorKeyFailure     = errors.New("rotor key schedule failed")
	ErrExternalTool        = errors.New("external tool failed")
	ErrPathCollision       = errors.New("output path collision")
)

// DecompressError reports a failed decompression together with the codec
// that was attempted.
type DecompressError struct {
	Codec string
	Err   error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("decompress (%s): %v", e.Codec, e.Err)
}

func (e *DecompressError) Unwrap() error { return e.Err }

// OutputIOError reports a failure writing an entry to the output tree.
type OutputIOError struct {
	Path string
	Err  error
}

func (e *OutputIOError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *OutputIOError) Unwrap() error { return e.Err }
