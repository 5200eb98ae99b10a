// Package archive bundles a world into a single .tar.gz: a consistent
// snapshot of the bolt store, the script directory, the help file and the
// game config, plus a manifest of SHA-256 checksums.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ManifestVersion is written into every new archive.
const ManifestVersion = 1

// Archive entry kinds.
const (
	KindBolt   = "bolt"
	KindScript = "script"
	KindHelp   = "help"
	KindConf   = "conf"
)

// Fixed locations inside an archive.
const (
	boltName   = "data/world.bolt"
	scriptsDir = "scripts"
	helpDir    = "help"
	confDir    = "conf"
	manifestFn = "manifest.json"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	MudName   string               `json:"mud_name"`
	Entities  int                  `json:"entities"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Kind   string `json:"kind"`
}

// Params holds the inputs for CreateArchive. Empty paths are skipped.
type Params struct {
	Snapshot  func(destPath string) error // writes a consistent copy of the bolt store
	ScriptDir string
	HelpFile  string
	ConfPath  string
	OutDir    string
	Server    string // version string for the manifest
	MudName   string
	Entities  int
}

// CreateArchive writes a timestamped archive into p.OutDir and returns its
// path.
func CreateArchive(p Params) (string, error) {
	if err := os.MkdirAll(p.OutDir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.OutDir, err)
	}
	now := time.Now()
	path := filepath.Join(p.OutDir, fmt.Sprintf("world-%s.tar.gz", now.Format("20060102-150405")))

	tmpDir, err := os.MkdirTemp("", "mushscript-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var boltStaged string
	if p.Snapshot != nil {
		boltStaged = filepath.Join(tmpDir, "world.bolt")
		if err := p.Snapshot(boltStaged); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", path, err)
	}
	w := &writer{tw: nil, files: make(map[string]FileEntry)}
	gw := gzip.NewWriter(out)
	w.tw = tar.NewWriter(gw)

	err = w.fill(p, boltStaged, now)
	if cerr := w.tw.Close(); err == nil {
		err = cerr
	}
	if cerr := gw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

type writer struct {
	tw    *tar.Writer
	files map[string]FileEntry
}

func (w *writer) fill(p Params, boltStaged string, now time.Time) error {
	if boltStaged != "" {
		if err := w.addFile(boltStaged, boltName, KindBolt); err != nil {
			return err
		}
	}
	if p.ScriptDir != "" {
		if info, err := os.Stat(p.ScriptDir); err == nil && info.IsDir() {
			if err := w.addDir(p.ScriptDir, scriptsDir, KindScript); err != nil {
				return err
			}
		}
	}
	if p.HelpFile != "" {
		if _, err := os.Stat(p.HelpFile); err == nil {
			if err := w.addFile(p.HelpFile, helpDir+"/"+filepath.Base(p.HelpFile), KindHelp); err != nil {
				return err
			}
		}
	}
	if p.ConfPath != "" {
		if _, err := os.Stat(p.ConfPath); err == nil {
			if err := w.addFile(p.ConfPath, confDir+"/"+filepath.Base(p.ConfPath), KindConf); err != nil {
				return err
			}
		}
	}

	m := Manifest{
		Version:   ManifestVersion,
		Server:    p.Server,
		Timestamp: now.UTC().Format(time.RFC3339),
		MudName:   p.MudName,
		Entities:  p.Entities,
		Files:     w.files,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := w.tw.WriteHeader(&tar.Header{
		Name:    manifestFn,
		Size:    int64(len(data)),
		Mode:    0644,
		ModTime: now,
	}); err != nil {
		return fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	return nil
}

// addFile copies srcPath into the archive as name, recording its checksum.
func (w *writer) addFile(srcPath, name, kind string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if err := w.tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return fmt.Errorf("archive: header %s: %w", name, err)
	}

	h := sha256.New()
	n, err := io.Copy(w.tw, io.TeeReader(f, h))
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	w.files[name] = FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n, Kind: kind}
	return nil
}

// addDir adds every regular file under srcDir beneath prefix.
func (w *writer) addDir(srcDir, prefix, kind string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return w.addFile(path, prefix+"/"+filepath.ToSlash(rel), kind)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
