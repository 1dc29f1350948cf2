package main

import (
	"fmt"
	"io"
	"time"

	"github.com/kjk/kvdataset/dataset"
	"github.com/kjk/kvdataset/log"
	"github.com/kjk/kvdataset/scan"
	"github.com/kjk/kvdataset/u"
	flag "github.com/spf13/pflag"
)

type createArgs struct {
	dataDir        string
	outputPath     string
	annotationsDir string
	cfg            Config
}

func parseCreateArgs(args []string, workDir string) (*createArgs, error) {
	flagSet := flag.NewFlagSet("create", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	dataDir := flagSet.String("data-directory-path", "", "Directory with images")
	outputPath := flagSet.String("output-dataset-path", "", "Path of the dataset file")
	annotationsDir := flagSet.String("annotations-directory-path", "", "Directory whose file names give labels")
	extensions := flagSet.StringSlice("extensions", nil, "File extensions to include")
	bufferSize := flagSet.Int("buffer-size", 0, "Records per transaction")
	format := flagSet.String("format", "", "Store format: kv|sqlite")
	compression := flagSet.String("compression", "", "Value compression: none|zstd|brotli")
	noOverwrite := flagSet.Bool("no-overwrite", false, "Fail if a record already exists")
	configPath := flagSet.String("config", "", "Path of JSONC config file")
	logDir := flagSet.String("log-dir", "", "Directory for log and event files")
	verbose := flagSet.BoolP("verbose", "v", false, "Log every flushed batch")

	if err := flagSet.Parse(args); err != nil {
		return nil, &usageError{err: err}
	}
	if flagSet.NArg() > 0 {
		return nil, usageErrorf("unexpected argument '%s'", flagSet.Arg(0))
	}
	if *dataDir == "" {
		return nil, usageErrorf("--data-directory-path is required")
	}
	if *outputPath == "" {
		return nil, usageErrorf("--output-dataset-path is required")
	}

	cfg, _, err := LoadConfig(workDir, *configPath)
	if err != nil {
		return nil, err
	}
	// flags set explicitly override the config file
	if flagSet.Changed("extensions") {
		cfg.Extensions = *extensions
	}
	if flagSet.Changed("buffer-size") {
		cfg.BufferSize = *bufferSize
	}
	if flagSet.Changed("format") {
		cfg.Format = *format
	}
	if flagSet.Changed("compression") {
		cfg.Compression = *compression
	}
	if flagSet.Changed("no-overwrite") {
		cfg.NoOverwrite = *noOverwrite
	}
	if flagSet.Changed("log-dir") {
		cfg.LogDir = *logDir
	}
	if flagSet.Changed("verbose") {
		cfg.Verbose = *verbose
	}
	cfg.LogDir = resolvePath(workDir, cfg.LogDir)

	return &createArgs{
		dataDir:        resolvePath(workDir, *dataDir),
		outputPath:     resolvePath(workDir, *outputPath),
		annotationsDir: resolvePath(workDir, *annotationsDir),
		cfg:            cfg,
	}, nil
}

func runCreate(args []string, workDir string) error {
	a, err := parseCreateArgs(args, workDir)
	if err != nil {
		return err
	}
	format, compression, err := a.cfg.validate()
	if err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}

	log.Verbose = a.cfg.Verbose
	// closed by Run, after errors are logged
	log.Init(&log.Config{Dir: a.cfg.LogDir})

	timeStart := time.Now()
	payloads, labels, err := scan.ReadDir(a.dataDir, a.annotationsDir, a.cfg.Extensions)
	if err != nil {
		return err
	}
	log.Verbosef("read %d files from '%s' in %s\n", len(payloads), a.dataDir, u.FormatDuration(time.Since(timeStart)))
	log.Event("scan", "dir", a.dataDir, "files", len(payloads))

	if u.FileExists(a.outputPath) {
		log.Verbosef("updating existing dataset '%s'\n", a.outputPath)
	}
	w := &dataset.Writer{
		Path:        a.outputPath,
		BufferSize:  a.cfg.BufferSize,
		Format:      format,
		Compression: compression,
		NoOverwrite: a.cfg.NoOverwrite,
	}
	err = w.CreateDataset(payloads, dataset.StringLabels(labels))
	if err != nil {
		log.Event("create", "path", a.outputPath, "error", err.Error())
		return err
	}

	m := &dataset.Manifest{
		Count:       len(payloads),
		Format:      format,
		Compression: compression,
		BufferSize:  a.cfg.BufferSize,
		Created:     time.Now(),
		SourceDir:   a.dataDir,
	}
	if err = dataset.WriteManifest(a.outputPath, m); err != nil {
		return err
	}

	dur := time.Since(timeStart)
	size := u.FileSize(a.outputPath)
	log.Logf("wrote %d records (%s) to '%s' in %s\n", len(payloads), u.FormatSize(size), a.outputPath, u.FormatDuration(dur))
	log.EventWithDuration("create", dur, "path", a.outputPath, "records", len(payloads), "size", size)
	return nil
}
