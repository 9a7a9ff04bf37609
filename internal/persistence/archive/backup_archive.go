// Package archive compacts aged backup copies into zstd-compressed tar
// bundles so the backups directory stays small without losing history.
package archive

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

type BundleMeta struct {
	Files     []string `json:"files"`
	Oldest    string   `json:"oldest"`
	Newest    string   `json:"newest"`
	CreatedAt string   `json:"created_at"`
}

// backup copies are named 2006-01-02_15-04-05.json
const backupNameLayout = "2006-01-02_15-04-05"

// CompactBackups moves every backup copy older than cutoff into one
// `backups-<oldest>--<newest>.tar.zst` bundle under archiveDir, writes a
// sibling meta file, and deletes the originals. Returns the bundle path
// and the number of files bundled, or ("", 0) when nothing is old enough.
func CompactBackups(backupDir, archiveDir string, cutoff time.Time) (string, int, error) {
	names, err := agedBackups(backupDir, cutoff)
	if err != nil || len(names) == 0 {
		return "", 0, err
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", 0, err
	}
	oldest := strings.TrimSuffix(names[0], ".json")
	newest := strings.TrimSuffix(names[len(names)-1], ".json")
	bundlePath := filepath.Join(archiveDir, fmt.Sprintf("backups-%s--%s.tar.zst", oldest, newest))

	if err := writeBundle(bundlePath, backupDir, names); err != nil {
		return "", 0, err
	}

	meta := BundleMeta{
		Files:     names,
		Oldest:    oldest,
		Newest:    newest,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(strings.TrimSuffix(bundlePath, ".tar.zst")+".meta.json", b, 0o644)
	}

	// Originals go only after the bundle is fully on disk.
	for _, name := range names {
		if err := os.Remove(filepath.Join(backupDir, name)); err != nil {
			return bundlePath, len(names), err
		}
	}
	return bundlePath, len(names), nil
}

func agedBackups(backupDir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ts, err := time.Parse(backupNameLayout, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue // not one of ours
		}
		if ts.Before(cutoff) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func writeBundle(bundlePath, backupDir string, names []string) error {
	f, err := os.Create(bundlePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	for _, name := range names {
		if err := addFile(tw, filepath.Join(backupDir, name), name); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, in)
	return err
}

// ReadBundle lists the entries of a bundle, returning name to contents.
// Used by the admin tool to inspect compacted history.
func ReadBundle(bundlePath string) (map[string][]byte, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := map[string][]byte{}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		out[hdr.Name] = b
	}
}
