package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// RestoreParams says where each part of an archive goes. Empty
// destinations are skipped.
type RestoreParams struct {
	ArchivePath string
	BoltDest    string
	ScriptDest  string // directory
	HelpDest    string
	ConfDest    string
	Stdin       io.Reader // answers to the config prompt; nil takes the archived copy
	Stdout      io.Writer
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest      *Manifest
	FilesRestored int
	Warnings      []string
}

// RestoreArchive verifies every checksum in the archive before writing
// anything, then copies each part to its destination. The server must not
// be running against BoltDest.
func RestoreArchive(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "mushscript-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractArchive(p.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, manifestFn))
	if err != nil {
		return nil, fmt.Errorf("restore: %s not found in archive", manifestFn)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}
	if m.Version > ManifestVersion {
		return nil, fmt.Errorf("restore: manifest version %d is newer than %d", m.Version, ManifestVersion)
	}
	for name, fe := range m.Files {
		ok, err := validateChecksum(filepath.Join(tmpDir, filepath.FromSlash(name)), fe.SHA256)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s", name)
		}
	}

	res := &RestoreResult{Manifest: &m}

	if p.BoltDest != "" {
		src := filepath.Join(tmpDir, filepath.FromSlash(boltName))
		if _, err := os.Stat(src); err == nil {
			if err := os.MkdirAll(filepath.Dir(p.BoltDest), 0755); err != nil {
				return nil, fmt.Errorf("restore: create bolt dir: %w", err)
			}
			if err := copyFile(src, p.BoltDest); err != nil {
				return nil, fmt.Errorf("restore: copy bolt: %w", err)
			}
			res.FilesRestored++
		}
	}

	if p.ScriptDest != "" {
		src := filepath.Join(tmpDir, scriptsDir)
		if st, err := os.Stat(src); err == nil && st.IsDir() {
			n, err := copyDir(src, p.ScriptDest)
			if err != nil {
				return nil, fmt.Errorf("restore: copy scripts: %w", err)
			}
			res.FilesRestored += n
		}
	}

	if p.HelpDest != "" {
		if src, ok := singleFile(tmpDir, helpDir); ok {
			if err := os.MkdirAll(filepath.Dir(p.HelpDest), 0755); err != nil {
				return nil, fmt.Errorf("restore: create help dir: %w", err)
			}
			if err := copyFile(src, p.HelpDest); err != nil {
				return nil, fmt.Errorf("restore: copy help: %w", err)
			}
			res.FilesRestored++
		}
	}

	if p.ConfDest != "" {
		if src, ok := singleFile(tmpDir, confDir); ok {
			action, err := promptConfigDiff(src, p.ConfDest, filepath.Base(p.ConfDest), p.Stdin, p.Stdout)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("config prompt: %v", err))
			}
			switch action {
			case 'U':
				if err := os.MkdirAll(filepath.Dir(p.ConfDest), 0755); err != nil {
					return nil, fmt.Errorf("restore: create conf dir: %w", err)
				}
				if err := copyFile(src, p.ConfDest); err != nil {
					return nil, fmt.Errorf("restore: copy conf: %w", err)
				}
				res.FilesRestored++
			case 'K':
				res.Warnings = append(res.Warnings, "kept current config "+p.ConfDest)
			}
		}
	}
	return res, nil
}

// singleFile returns the first regular file in tmpDir/sub.
func singleFile(tmpDir, sub string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(tmpDir, sub))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return filepath.Join(tmpDir, sub, e.Name()), true
		}
	}
	return "", false
}

func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func validateChecksum(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == expected, nil
}

// promptConfigDiff decides what to do with an archived config that differs
// from the one on disk: 'U' use archived, 'K' keep current, 'S' skip
// (identical). A missing destination, or no stdin, takes the archived copy.
func promptConfigDiff(srcFile, destFile, name string, stdin io.Reader, stdout io.Writer) (byte, error) {
	if _, err := os.Stat(destFile); os.IsNotExist(err) {
		return 'U', nil
	}
	srcData, err := os.ReadFile(srcFile)
	if err != nil {
		return 'K', err
	}
	destData, err := os.ReadFile(destFile)
	if err != nil {
		return 'K', err
	}
	if bytes.Equal(srcData, destData) {
		return 'S', nil
	}
	if stdin == nil {
		return 'U', nil
	}
	if stdout == nil {
		stdout = io.Discard
	}

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprintf(stdout, "\nConfig file %q differs from archive.\n", name)
		fmt.Fprintf(stdout, "[K]eep current  [U]se archived  [D]iff: ")
		if !scanner.Scan() {
			return 'K', nil
		}
		input := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if input == "" {
			continue
		}
		switch input[0] {
		case 'K', 'U':
			return input[0], nil
		case 'D':
			simpleDiff(string(destData), string(srcData), stdout)
		default:
			fmt.Fprintf(stdout, "Please enter K, U or D.\n")
		}
	}
}

// simpleDiff prints differing lines position by position.
func simpleDiff(current, archived string, w io.Writer) {
	cur := strings.Split(current, "\n")
	arc := strings.Split(archived, "\n")
	fmt.Fprintf(w, "\n--- current\n+++ archived\n")
	for i := 0; i < max(len(cur), len(arc)); i++ {
		var c, a string
		if i < len(cur) {
			c = cur[i]
		}
		if i < len(arc) {
			a = arc[i]
		}
		if c == a {
			continue
		}
		if i < len(cur) {
			fmt.Fprintf(w, "- %s\n", c)
		}
		if i < len(arc) {
			fmt.Fprintf(w, "+ %s\n", a)
		}
	}
	fmt.Fprintln(w)
}

func copyDir(src, dst string) (int, error) {
	count := 0
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
