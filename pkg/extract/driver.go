package extract

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
)

// Stem returns the container file name without its suffix; it names the
// per-container output subdirectory.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ExtractFile unpacks a single container into a per-container
// subdirectory of outputDir.
func ExtractFile(npkPath, outputDir string, opts Options, progress Progress) error {
	x := New(npkPath, filepath.Join(outputDir, Stem(npkPath)), opts)
	return x.Unpack(progress)
}

// FileProgress builds the per-container progress sink used while file
// is extracted. It may return nil to mute that container.
type FileProgress func(file string) Progress

// ExtractDir unpacks every .npk file in dir concurrently, each worker
// owning its own file handle and sharing no container state. Per-file
// failures are logged and do not stop the remaining files. Per-file
// progress advances as entries complete; the aggregate sink advances as
// whole files complete.
func ExtractDir(dir, outputDir string, opts Options, progress Progress, fileProgress FileProgress) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.npk"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Printf("extract: no .npk files in %s", dir)
		return nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	fileDone := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if progress != nil {
			progress(float64(done) / float64(len(files)) * 100)
		}
	}

	sem := make(chan struct{}, opts.workers())
	var wg sync.WaitGroup
	for _, file := range files {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var fp Progress
			if fileProgress != nil {
				fp = fileProgress(file)
			}
			if err := ExtractFile(file, outputDir, opts, fp); err != nil {
				log.Printf("extract: %s: %v", file, err)
			}
			fileDone()
		}(file)
	}
	wg.Wait()
	return nil
}
