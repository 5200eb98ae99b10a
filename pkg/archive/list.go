package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string
	Filename  string
	Size      int64
	Timestamp string // manifest timestamp, or file mod time
	MudName   string
	Entities  int
	Scripts   int
}

// ListArchives returns the archives in dir, newest first.
func ListArchives(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var out []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m, err := ReadManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.MudName = m.MudName
			ai.Entities = m.Entities
			for _, fe := range m.Files {
				if fe.Kind == KindScript {
					ai.Scripts++
				}
			}
		}
		out = append(out, ai)
	}

	// RFC3339 UTC sorts lexically.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// ReadManifest returns the manifest of the archive at path without
// extracting anything else.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != manifestFn {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, fmt.Errorf("archive: %s has no %s", path, manifestFn)
}
