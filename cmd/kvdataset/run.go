package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/kjk/kvdataset/log"
	flag "github.com/spf13/pflag"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError is a problem with command line arguments
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, "Usage:")
	fprintln(w, "  kvdataset [create] --data-directory-path DIR --output-dataset-path FILE [options]")
	fprintln(w, "  kvdataset info DATASET")
	fprintln(w)
	fprintln(w, "Relative paths are relative to the current directory.")
	fprintln(w, "info prints \"records\", the number of records in the store, and \"manifest_count\",")
	fprintln(w, "the number written by the last create. They differ when a dataset was updated")
	fprintln(w, "with fewer files, as records from earlier runs are kept.")
	fprintln(w)
	fprintln(w, "Options:")
	fprintln(w, "  --data-directory-path         Directory with images (required)")
	fprintln(w, "  --output-dataset-path         Path of the dataset file (required)")
	fprintln(w, "  --annotations-directory-path  Directory whose file names give labels [default: data directory]")
	fprintln(w, "  --extensions                  File extensions to include, repeatable [default: jpg,png]")
	fprintln(w, "  --buffer-size                 Records per transaction [default: 1000]")
	fprintln(w, "  --format                      Store format: kv|sqlite [default: kv]")
	fprintln(w, "  --compression                 Value compression: none|zstd|brotli [default: none]")
	fprintln(w, "  --no-overwrite                Fail if a record already exists in the dataset")
	fprintln(w, "  --config                      Path of JSONC config file [default: ./"+ConfigFileName+"]")
	fprintln(w, "  --log-dir                     Directory for log and event files")
	fprintln(w, "  -v, --verbose                 Log every flushed batch")
}

// Run executes the command line and returns the exit code.
// args[0] is the program name
func Run(args []string, stdout, stderr io.Writer, workDir string) int {
	prevOut, prevErrOut := log.Out, log.ErrOut
	log.Out, log.ErrOut = stdout, stderr
	defer func() {
		log.Close()
		log.Out, log.ErrOut = prevOut, prevErrOut
	}()

	if len(args) > 0 {
		args = args[1:]
	}
	cmd := "create"
	if len(args) > 0 {
		switch args[0] {
		case "create", "info":
			cmd = args[0]
			args = args[1:]
		case "help", "-h", "--help":
			printUsage(stdout)
			return exitOK
		}
	}

	var err error
	switch cmd {
	case "info":
		err = runInfo(args, stdout, workDir)
	default:
		err = runCreate(args, workDir)
	}
	if err == nil {
		return exitOK
	}
	if errors.Is(err, flag.ErrHelp) {
		printUsage(stdout)
		return exitOK
	}
	log.IfErrf(err, "error: %s", err)
	var ue *usageError
	if errors.As(err, &ue) {
		printUsage(stderr)
		return exitUsage
	}
	return exitError
}
