package dataset

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kjk/kvdataset/atomicfile"
	"github.com/kjk/kvdataset/kvstore"
	"github.com/kjk/kvdataset/siser"
	"github.com/kjk/kvdataset/u"
)

// Manifest describes how a dataset was created. It's stored next to
// the dataset as a siser record
type Manifest struct {
	Count       int
	Format      Format
	Compression kvstore.Compression
	BufferSize  int
	Created     time.Time
	SourceDir   string
}

// ManifestPath returns path of the manifest for a dataset at path
func ManifestPath(path string) string {
	return path + ".manifest"
}

func (m *Manifest) Marshal() []byte {
	var rec siser.Record
	err := rec.Write(
		"count", m.Count,
		"format", string(m.Format),
		"compression", m.Compression.String(),
		"buffer_size", m.BufferSize,
		"created", m.Created.UTC().Format(time.RFC3339),
	)
	u.Must(err)
	u.Must(rec.WriteNonEmpty("source_dir", m.SourceDir))
	return rec.Marshal()
}

// UnmarshalManifest parses a manifest. Unknown keys are ignored
func UnmarshalManifest(d []byte) (*Manifest, error) {
	rec, err := siser.UnmarshalRecord(d, nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m := &Manifest{}
	for _, e := range rec.Entries {
		v := e.Value
		switch e.Key {
		case "count":
			m.Count, err = strconv.Atoi(v)
		case "format":
			m.Format, err = ParseFormat(v)
		case "compression":
			m.Compression, err = kvstore.ParseCompression(v)
		case "buffer_size":
			m.BufferSize, err = strconv.Atoi(v)
		case "created":
			m.Created, err = time.Parse(time.RFC3339, v)
		case "source_dir":
			m.SourceDir = v
		}
		if err != nil {
			return nil, fmt.Errorf("manifest: '%s': %w", e.Key, err)
		}
	}
	return m, nil
}

// WriteManifest atomically writes manifest for dataset at path
func WriteManifest(path string, m *Manifest) error {
	return atomicfile.WriteFile(ManifestPath(path), m.Marshal())
}

// ReadManifest reads manifest of dataset at path
func ReadManifest(path string) (*Manifest, error) {
	d, err := os.ReadFile(ManifestPath(path))
	if err != nil {
		return nil, err
	}
	return UnmarshalManifest(d)
}
