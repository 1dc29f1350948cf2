package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/kjk/kvdataset/dataset"
	"github.com/kjk/kvdataset/u"
	"github.com/tidwall/pretty"
)

// datasetInfo is printed by "kvdataset info". Records counts records
// in the store, ManifestCount the records written by the last create.
// Records is bigger when a dataset was updated with fewer files
type datasetInfo struct {
	Path          string `json:"path"`
	Format        string `json:"format"`
	Records       int    `json:"records"`
	ManifestCount *int   `json:"manifest_count,omitempty"`
	Check         string `json:"check"`
	Size          int64  `json:"size"`
	SizeHuman     string `json:"size_human"`
	Compression   string `json:"compression,omitempty"`
	BufferSize    int    `json:"buffer_size,omitempty"`
	Created       string `json:"created,omitempty"`
	SourceDir     string `json:"source_dir,omitempty"`
}

func runInfo(args []string, stdout io.Writer, workDir string) error {
	if len(args) != 1 {
		return usageErrorf("info expects one argument: path of the dataset")
	}
	path := resolvePath(workDir, args[0])
	r, err := dataset.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	size := u.FileSize(path)
	info := &datasetInfo{
		Path:      path,
		Format:    string(r.Format),
		Records:   r.Len(),
		Size:      size,
		SizeHuman: u.FormatSize(size),
		Check:     "ok",
	}
	checkErr := r.Check()
	if checkErr != nil {
		info.Check = checkErr.Error()
	}
	m, err := dataset.ReadManifest(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if m != nil {
		info.ManifestCount = &m.Count
		info.Compression = m.Compression.String()
		info.BufferSize = m.BufferSize
		info.Created = m.Created.UTC().Format(time.RFC3339)
		info.SourceDir = m.SourceDir
	}

	d, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err = stdout.Write(pretty.Pretty(d)); err != nil {
		return err
	}
	return checkErr
}
