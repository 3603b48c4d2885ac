package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/absencelul/neox-tools/pkg/compress"
	"github.com/absencelul/neox-tools/pkg/npk"
)

// save routes a fully processed payload to its output path, expanding
// zip/zst wrappers at the sink.
func (x *Extractor) save(data []byte, e npk.Entry) error {
	ext := Sniff(data)

	var rel string
	if e.Name != "" && !x.opts.NoNXFN {
		rel = strings.ReplaceAll(e.Name, "\\", "/")
	} else {
		rel = fmt.Sprintf("%08d.%s", e.Index, ext)
	}

	path := filepath.Join(x.outputDir, filepath.FromSlash(rel))
	if err := x.claim(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &npk.OutputIOError{Path: path, Err: err}
	}

	switch ext {
	case "zst":
		return x.saveZstd(path, data)
	case "zip":
		return x.saveZip(path, data)
	}
	return writeFile(path, data)
}

// claim registers an output path; entries of one container must never
// share a path, so a duplicate NXFN name fails fast.
func (x *Extractor) claim(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, dup := x.emitted[path]; dup {
		return errors.Wrap(npk.ErrPathCollision, path)
	}
	x.emitted[path] = struct{}{}
	return nil
}

func (x *Extractor) saveZstd(path string, data []byte) error {
	if !x.opts.DeleteCompressed {
		if err := writeFile(path+".zst", data); err != nil {
			return err
		}
	}
	dec, err := compress.Zstd(data)
	if err != nil {
		return err
	}
	return writeFile(path, dec)
}

func (x *Extractor) saveZip(path string, data []byte) error {
	if err := writeFile(path, data); err != nil {
		return err
	}
	if err := expandZip(path, strings.TrimSuffix(path, filepath.Ext(path))); err != nil {
		return err
	}
	if x.opts.DeleteCompressed {
		if err := os.Remove(path); err != nil {
			return &npk.OutputIOError{Path: path, Err: err}
		}
	}
	return nil
}

// expandZip extracts an embedded archive into dir.
func expandZip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return &npk.DecompressError{Codec: "zip", Err: err}
	}
	defer r.Close()

	for _, zf := range r.File {
		target := filepath.Join(dir, filepath.FromSlash(zf.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
			return &npk.OutputIOError{Path: zf.Name, Err: errors.New("archive member escapes target directory")}
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &npk.OutputIOError{Path: target, Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &npk.OutputIOError{Path: target, Err: err}
		}
		rc, err := zf.Open()
		if err != nil {
			return &npk.DecompressError{Codec: "zip", Err: err}
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return &npk.DecompressError{Codec: "zip", Err: err}
		}
		if err := writeFile(target, content); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return &npk.OutputIOError{Path: path, Err: err}
	}
	return nil
}
