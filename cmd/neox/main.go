package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/absencelul/neox-tools/pkg/extract"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "neox-tools"
	myApp.Usage = "NeoX NPK asset tools"
	myApp.Version = VERSION
	myApp.Commands = []cli.Command{
		{
			Name:      "extract",
			Usage:     "extract NPK files",
			ArgsUsage: "PATH",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "output-dir, o",
					Usage: "output directory for extracted files",
				},
				cli.BoolFlag{
					Name:  "no-nxfn",
					Usage: "disable NXFN file structuring",
				},
				cli.BoolFlag{
					Name:  "delete-compressed",
					Usage: "delete compressed archives within the NPK file",
				},
				cli.IntFlag{
					Name:  "workers, w",
					Value: runtime.NumCPU(),
					Usage: "parallel workers per tier",
				},
				cli.BoolFlag{
					Name:  "strict-nxs3",
					Usage: "treat de_nxs3 failures as entry errors instead of keeping the raw payload",
				},
			},
			Action: runExtract,
		},
	}

	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runExtract(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("extract: PATH is required", 1)
	}

	info, err := os.Stat(path)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("extract: %v", err), 1)
	}

	opts := extract.Options{
		NoNXFN:           c.Bool("no-nxfn"),
		DeleteCompressed: c.Bool("delete-compressed"),
		Workers:          c.Int("workers"),
		StrictNXS3:       c.Bool("strict-nxs3"),
	}

	outputDir := c.String("output-dir")
	start := time.Now()

	if info.IsDir() {
		if outputDir == "" {
			outputDir = path
		}
		err = extract.ExtractDir(path, outputDir, opts,
			consoleProgress(fmt.Sprintf("Extracting %s", path)),
			func(file string) extract.Progress {
				return consoleProgress(fmt.Sprintf("Extracting %s", filepath.Base(file)))
			})
	} else {
		if !strings.EqualFold(filepath.Ext(path), ".npk") {
			return cli.NewExitError(fmt.Sprintf("extract: the file %s is not an NPK file", path), 1)
		}
		if outputDir == "" {
			outputDir = strings.TrimSuffix(path, filepath.Ext(path))
		}
		err = extract.ExtractFile(path, outputDir, opts, consoleProgress(fmt.Sprintf("Extracting %s", filepath.Base(path))))
	}
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("extract: %v", err), 1)
	}

	fmt.Println("\nExtraction completed successfully.")
	fmt.Printf("Finished in %.2f seconds.\n", time.Since(start).Seconds())
	return nil
}

// consoleProgress renders a single-line percentage counter. The driver
// serializes invocations, so no locking is needed here.
func consoleProgress(desc string) extract.Progress {
	return func(pct float64) {
		fmt.Printf("\r%s: %3.0f%%", desc, pct)
	}
}
