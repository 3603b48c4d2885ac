package extract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absencelul/neox-tools/pkg/keys"
	"github.com/absencelul/neox-tools/pkg/npk"
	"github.com/absencelul/neox-tools/pkg/rotor"
)

type specEntry struct {
	payload        []byte
	originalLength uint32
	sign           uint32
	zcrc           uint32
	crc            uint32
	compression    npk.Compression
	flag           uint16
	name           string
}

// buildNPK assembles a synthetic container: header, payloads, index
// table and optional NXFN name list. For EXPK both the index block and
// every payload are wrapped with the index key cipher.
func buildNPK(t *testing.T, magic string, entries []specEntry) []byte {
	t.Helper()

	withNXFN := false
	for _, e := range entries {
		if e.name != "" {
			withNXFN = true
		}
	}

	var payloads bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(24 + payloads.Len())
		stored := e.payload
		if magic == "EXPK" {
			stored = keys.New().Encrypt(stored)
		}
		payloads.Write(stored)
	}

	var index bytes.Buffer
	for i, e := range entries {
		ol := e.originalLength
		if ol == 0 {
			ol = uint32(len(e.payload))
		}
		for _, v := range []uint32{e.sign, offsets[i], uint32(len(e.payload)), ol, e.zcrc, e.crc} {
			binary.Write(&index, binary.LittleEndian, v)
		}
		binary.Write(&index, binary.LittleEndian, uint16(e.compression))
		binary.Write(&index, binary.LittleEndian, e.flag)
	}

	indexBytes := index.Bytes()
	if magic == "EXPK" {
		indexBytes = keys.New().Encrypt(indexBytes)
	}

	h := npk.Header{
		FileCount:   uint32(len(entries)),
		IndexOffset: uint32(24 + payloads.Len()),
	}
	if withNXFN {
		h.EncryptionMode = 256
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(payloads.Bytes())
	buf.Write(indexBytes)
	if withNXFN {
		buf.Write(make([]byte, 16))
		for _, e := range entries {
			buf.WriteString(e.name)
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func writeNPK(t *testing.T, dir, name string, raw []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func unpack(t *testing.T, raw []byte, opts Options) (string, []float64) {
	t.Helper()

	dir := t.TempDir()
	path := writeNPK(t, dir, "test.npk", raw)
	outDir := filepath.Join(dir, "out")

	var pcts []float64
	x := New(path, outDir, opts)
	require.NoError(t, x.Unpack(func(pct float64) { pcts = append(pcts, pct) }))
	return outDir, pcts
}

func TestUnpackEmptyContainer(t *testing.T) {
	t.Parallel()

	outDir, pcts := unpack(t, buildNPK(t, "NXPK", nil), Options{})
	assert.NoDirExists(t, outDir, "empty container leaves no output directory")
	assert.Empty(t, pcts)
}

func TestUnpackPlainEntry(t *testing.T) {
	t.Parallel()

	raw := buildNPK(t, "NXPK", []specEntry{{payload: []byte("hello")}})
	outDir, pcts := unpack(t, raw, Options{})

	got, err := os.ReadFile(filepath.Join(outDir, "00000000.dat"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NotEmpty(t, pcts)
	assert.Equal(t, 100.0, pcts[len(pcts)-1])
}

func TestUnpackZlibEntry(t *testing.T) {
	t.Parallel()

	plain := []byte(`{ "k": 1 }`)
	raw := buildNPK(t, "NXPK", []specEntry{{
		payload:        zlibCompress(t, plain),
		originalLength: uint32(len(plain)),
		compression:    npk.CompressionZlib,
	}})
	outDir, _ := unpack(t, raw, Options{})

	got, err := os.ReadFile(filepath.Join(outDir, "00000000.json"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestUnpackNXFNNaming(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 87)
	copy(payload, "\x89PNG\r\n\x1a\n")
	raw := buildNPK(t, "NXPK", []specEntry{{payload: payload, name: `a\b\c.png`}})
	outDir, _ := unpack(t, raw, Options{})

	got, err := os.ReadFile(filepath.Join(outDir, "a", "b", "c.png"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUnpackNoNXFN(t *testing.T) {
	t.Parallel()

	raw := buildNPK(t, "NXPK", []specEntry{{payload: []byte("hello"), name: `a\b.dat`}})
	outDir, _ := unpack(t, raw, Options{NoNXFN: true})

	assert.FileExists(t, filepath.Join(outDir, "00000000.dat"))
	assert.NoFileExists(t, filepath.Join(outDir, "a", "b.dat"))
}

func TestUnpackFlag4LZ4Entry(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte(`{ "k": 1 } padding padding `), 10)
	dst := make([]byte, lz4.CompressBlockBound(len(plain)))
	n, err := lz4.CompressBlock(plain, dst, nil)
	require.NoError(t, err)
	compressed := dst[:n]

	rec := npk.Record{
		Length:         uint32(len(compressed)),
		OriginalLength: uint32(len(plain)),
		CRC:            0xCAFEBABE,
		Flag:           4,
	}
	// The codec is an involution; applying it here scrambles the
	// payload the way a real container stores it.
	require.NoError(t, Scramble(compressed, rec))

	raw := buildNPK(t, "NXPK", []specEntry{{
		payload:        compressed,
		originalLength: uint32(len(plain)),
		crc:            rec.CRC,
		compression:    npk.CompressionLZ4,
		flag:           4,
	}})
	outDir, _ := unpack(t, raw, Options{})

	got, err := os.ReadFile(filepath.Join(outDir, "00000000.json"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

// A stored blob whose rotor ciphertext begins with one of the rot
// markers must route through the rotor unwrap and land at the sink
// under its unwrapped content type.
func TestUnpackRotEntry(t *testing.T) {
	t.Parallel()

	content := []byte("technique rotorpass { }")
	deflated := rotPlain(t, content)

	// The marker is a property of the ciphertext, so probe rotor keys
	// until the encrypted blob carries one.
	var (
		rot     *rotor.Rotor
		payload []byte
	)
	for k := 0; k < 500000 && payload == nil; k++ {
		r, err := rotor.New(fmt.Sprintf("probe key %d", k))
		require.NoError(t, err)
		head := r.Encrypt(deflated[:2])
		for _, m := range rotPrefixes {
			if bytes.HasPrefix(head, m) {
				if p := r.Encrypt(deflated); Sniff(p) == "rot" {
					rot, payload = r, p
				}
				break
			}
		}
	}
	require.NotNil(t, payload, "no probe key yielded a rot-marked ciphertext")

	dir := t.TempDir()
	path := writeNPK(t, dir, "test.npk", buildNPK(t, "NXPK", []specEntry{{payload: payload}}))
	outDir := filepath.Join(dir, "out")

	x := New(path, outDir, Options{})
	x.rot = rot
	require.NoError(t, x.Unpack(nil))

	got, err := os.ReadFile(filepath.Join(outDir, "00000000.shader"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestUnpackEXPK(t *testing.T) {
	t.Parallel()

	raw := buildNPK(t, "EXPK", []specEntry{{payload: []byte("hello world, sixteen+")}})
	outDir, _ := unpack(t, raw, Options{})

	got, err := os.ReadFile(filepath.Join(outDir, "00000000.dat"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world, sixteen+"), got)
}

func TestUnpackZstdSink(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte("zstandard sink payload "), 16)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	frame := enc.EncodeAll(plain, nil)
	require.NoError(t, enc.Close())

	raw := buildNPK(t, "NXPK", []specEntry{{payload: frame}})

	t.Run("retains compressed artifact", func(t *testing.T) {
		outDir, _ := unpack(t, raw, Options{})

		got, err := os.ReadFile(filepath.Join(outDir, "00000000.zst"))
		require.NoError(t, err)
		assert.Equal(t, plain, got)

		rawGot, err := os.ReadFile(filepath.Join(outDir, "00000000.zst.zst"))
		require.NoError(t, err)
		assert.Equal(t, frame, rawGot)
	})

	t.Run("delete compressed", func(t *testing.T) {
		outDir, _ := unpack(t, raw, Options{DeleteCompressed: true})

		got, err := os.ReadFile(filepath.Join(outDir, "00000000.zst"))
		require.NoError(t, err)
		assert.Equal(t, plain, got)
		assert.NoFileExists(t, filepath.Join(outDir, "00000000.zst.zst"))
	})
}

func TestUnpackZipSink(t *testing.T) {
	t.Parallel()

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	f, err := zw.Create("sub/x.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello zip"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	raw := buildNPK(t, "NXPK", []specEntry{{payload: archive.Bytes()}})

	t.Run("expands archive", func(t *testing.T) {
		outDir, _ := unpack(t, raw, Options{})

		assert.FileExists(t, filepath.Join(outDir, "00000000.zip"))
		got, err := os.ReadFile(filepath.Join(outDir, "00000000", "sub", "x.txt"))
		require.NoError(t, err)
		assert.Equal(t, []byte("hello zip"), got)
	})

	t.Run("delete compressed", func(t *testing.T) {
		outDir, _ := unpack(t, raw, Options{DeleteCompressed: true})

		assert.NoFileExists(t, filepath.Join(outDir, "00000000.zip"))
		assert.FileExists(t, filepath.Join(outDir, "00000000", "sub", "x.txt"))
	})
}

func TestUnpackProgressMonotonic(t *testing.T) {
	t.Parallel()

	entries := make([]specEntry, 20)
	for i := range entries {
		entries[i] = specEntry{payload: bytes.Repeat([]byte{byte(0xF0 + i)}, 32)}
	}
	_, pcts := unpack(t, buildNPK(t, "NXPK", entries), Options{Workers: 4})

	require.Len(t, pcts, 20)
	for i := 1; i < len(pcts); i++ {
		assert.LessOrEqual(t, pcts[i-1], pcts[i])
	}
	assert.Equal(t, 100.0, pcts[len(pcts)-1])
}

func TestUnpackAbortRemovesOutputDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeNPK(t, dir, "bad.npk", append([]byte("JUNK"), make([]byte, 20)...))
	outDir := filepath.Join(dir, "out")

	x := New(path, outDir, Options{})
	err := x.Unpack(nil)
	assert.ErrorIs(t, err, npk.ErrInvalidSignature)
	assert.NoDirExists(t, outDir)
}

func TestUnpackSkipsBadEntry(t *testing.T) {
	t.Parallel()

	raw := buildNPK(t, "NXPK", []specEntry{
		{payload: []byte("not zlib"), compression: npk.CompressionZlib},
		{payload: []byte("hello")},
	})
	outDir, pcts := unpack(t, raw, Options{})

	// The corrupt entry is logged and skipped; the good one still lands.
	assert.FileExists(t, filepath.Join(outDir, "00000001.dat"))
	assert.NoFileExists(t, filepath.Join(outDir, "00000000.dat"))
	assert.Equal(t, 100.0, pcts[len(pcts)-1])
}

func TestClaimDetectsCollision(t *testing.T) {
	t.Parallel()

	x := New("in.npk", t.TempDir(), Options{})
	require.NoError(t, x.claim("out/a.png"))
	assert.ErrorIs(t, x.claim("out/a.png"), npk.ErrPathCollision)
	assert.NoError(t, x.claim("out/b.png"))
}

func TestExtractDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeNPK(t, dir, "a.npk", buildNPK(t, "NXPK", []specEntry{{payload: []byte("first")}}))
	writeNPK(t, dir, "b.npk", buildNPK(t, "NXPK", []specEntry{{payload: []byte("second")}}))
	outDir := filepath.Join(dir, "out")

	var (
		mu       sync.Mutex
		pcts     []float64
		perFile  = map[string][]float64{}
		progress = func(pct float64) {
			mu.Lock()
			defer mu.Unlock()
			pcts = append(pcts, pct)
		}
		fileProgress = func(file string) Progress {
			name := filepath.Base(file)
			return func(pct float64) {
				mu.Lock()
				defer mu.Unlock()
				perFile[name] = append(perFile[name], pct)
			}
		}
	)
	require.NoError(t, ExtractDir(dir, outDir, Options{Workers: 2}, progress, fileProgress))

	got, err := os.ReadFile(filepath.Join(outDir, "a", "00000000.dat"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
	assert.FileExists(t, filepath.Join(outDir, "b", "00000000.dat"))

	require.Len(t, pcts, 2)
	assert.Equal(t, 100.0, pcts[1])

	// Each container reports its own per-entry progress too.
	for _, name := range []string{"a.npk", "b.npk"} {
		require.NotEmpty(t, perFile[name], "%s progress", name)
		assert.Equal(t, 100.0, perFile[name][len(perFile[name])-1])
	}
}

func TestStem(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "res", Stem("/data/res.npk"))
	assert.Equal(t, "noext", Stem("noext"))
}
