// Command kvdataset converts a directory of labeled images into a
// single-file key / value dataset.
package main

import (
	"os"
)

func main() {
	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}
	os.Exit(Run(os.Args, os.Stdout, os.Stderr, workDir))
}
