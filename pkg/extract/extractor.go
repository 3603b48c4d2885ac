// Package extract implements the per-entry decryption pipeline, the
// two-tier parallel driver and the output sink for NPK/EXPK containers.
package extract

import (
	"io"
	"log"
	"os"
	"runtime"
	"sync"

	"github.com/absencelul/neox-tools/pkg/keys"
	"github.com/absencelul/neox-tools/pkg/npk"
	"github.com/absencelul/neox-tools/pkg/rotor"
)

// Options configure extraction. The zero value is usable; Workers
// defaults to the host CPU count.
type Options struct {
	// NoNXFN disables structural naming even when an NXFN table is
	// present.
	NoNXFN bool
	// DeleteCompressed removes zip/zst intermediate artifacts after
	// post-processing.
	DeleteCompressed bool
	// Workers bounds both concurrency tiers.
	Workers int
	// StrictNXS3 makes de_nxs3 failures fatal for the entry instead of
	// keeping the raw payload.
	StrictNXS3 bool
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// Progress receives a monotonically non-decreasing percentage in
// [0, 100]. It is invoked under a lock (the extractor's, or the directory
// driver's for the aggregate sink) and so never concurrently.
type Progress func(pct float64)

// Extractor unpacks one container into one output directory.
type Extractor struct {
	path      string
	outputDir string
	opts      Options
	keys      *keys.Keys
	rot       *rotor.Rotor // nil means the shared fixed-key instance

	mu        sync.Mutex
	completed int
	total     int
	progress  Progress
	emitted   map[string]struct{}
}

// New prepares an extractor for the container at path writing into
// outputDir.
func New(path, outputDir string, opts Options) *Extractor {
	return &Extractor{
		path:      path,
		outputDir: outputDir,
		opts:      opts,
		keys:      keys.New(),
		emitted:   make(map[string]struct{}),
	}
}

type job struct {
	data  []byte
	entry npk.Entry
}

// Unpack parses the container and extracts every entry. Header/index
// failures abort and remove the output directory; per-entry failures
// are logged and skipped.
func (x *Extractor) Unpack(progress Progress) error {
	if err := os.MkdirAll(x.outputDir, 0o755); err != nil {
		return &npk.OutputIOError{Path: x.outputDir, Err: err}
	}

	f, err := os.Open(x.path)
	if err != nil {
		os.Remove(x.outputDir)
		return &npk.OutputIOError{Path: x.path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		os.Remove(x.outputDir)
		return &npk.OutputIOError{Path: x.path, Err: err}
	}

	c, err := npk.Parse(f, info.Size(), x.keys)
	if err != nil {
		os.Remove(x.outputDir)
		return err
	}

	x.mu.Lock()
	x.total = len(c.Entries)
	x.completed = 0
	x.progress = progress
	x.mu.Unlock()

	x.extractParallel(f, c)

	// Nothing emitted for an empty container; drop the directory again.
	if len(c.Entries) == 0 {
		os.Remove(x.outputDir)
	}
	return nil
}

// extractParallel reads payloads sequentially on the driver side (only
// the driver touches the container handle) and fans the CPU-bound
// pipeline out to a worker pool.
func (x *Extractor) extractParallel(f *os.File, c *npk.Container) {
	jobs := make(chan job, x.opts.workers())

	var wg sync.WaitGroup
	for w := 0; w < x.opts.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				x.runOne(j, c.Format)
			}
		}()
	}

	for _, e := range c.Entries {
		data := make([]byte, e.Length)
		if n, err := f.ReadAt(data, int64(e.Offset)); n < len(data) {
			if err == nil || err == io.EOF {
				err = npk.ErrTruncatedContainer
			}
			x.entryFailed(e, err)
			continue
		}
		jobs <- job{data: data, entry: e}
	}
	close(jobs)
	wg.Wait()
}

func (x *Extractor) runOne(j job, format npk.Format) {
	data := j.data
	if format == npk.FormatEXPK {
		data = x.keys.Decrypt(data)
	}

	data, err := x.process(data, j.entry)
	if err != nil {
		x.entryFailed(j.entry, err)
		return
	}
	if err := x.save(data, j.entry); err != nil {
		x.entryFailed(j.entry, err)
		return
	}
	x.entryDone()
}

func (x *Extractor) entryFailed(e npk.Entry, err error) {
	log.Printf("extract: %s: entry %d (sign %08x, offset %d): %v", x.path, e.Index, e.Sign, e.Offset, err)
	x.entryDone()
}

func (x *Extractor) entryDone() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.completed++
	if x.progress != nil && x.total > 0 {
		x.progress(float64(x.completed) / float64(x.total) * 100)
	}
}
