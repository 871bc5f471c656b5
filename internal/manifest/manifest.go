// Package manifest records which hashed files a build produced for each
// logical entry, so a server-side template system can reference built assets
// by a stable name.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minio/crc64nvme"
)

// Version is the schema version written to, and accepted from, manifest files.
const Version = 1

const StatusDone = "done"

var (
	ErrUnsupportedVersion = errors.New("unsupported manifest version")
	ErrUnknownEntry       = errors.New("entry not found in manifest")
	ErrMissingFile        = errors.New("manifest references a missing file")
	ErrChecksumMismatch   = errors.New("manifest checksum mismatch")
)

// File is one emitted file.
type File struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	PublicPath string `json:"publicPath"`
	Size       int64  `json:"size"`
	CRC64      string `json:"crc64"`
}

// Ext is the lower-cased extension without the dot.
func (f File) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
}

// Manifest maps logical bundle names to emitted files. The chunks layout
// follows webpack-bundle-tracker so existing template integrations can read
// it; version and fingerprint make the hand-off checkable.
type Manifest struct {
	Version     int               `json:"version"`
	Status      string            `json:"status"`
	Fingerprint string            `json:"fingerprint"`
	PublicPath  string            `json:"publicPath"`
	Chunks      map[string][]File `json:"chunks"`
	Assets      map[string]File   `json:"assets"`
}

func New(fingerprint, publicPath string) *Manifest {
	return &Manifest{
		Version:     Version,
		Status:      StatusDone,
		Fingerprint: fingerprint,
		PublicPath:  publicPath,
		Chunks:      map[string][]File{},
		Assets:      map[string]File{},
	}
}

// NewFile describes a file about to be (or already) written at path.
func NewFile(path, publicPath string, contents []byte) File {
	return File{
		Name:       filepath.Base(path),
		Path:       path,
		PublicPath: publicPath,
		Size:       int64(len(contents)),
		CRC64:      Checksum(contents),
	}
}

// Checksum is the hex CRC-64/NVME of contents.
func Checksum(contents []byte) string {
	h := crc64nvme.New()
	_, _ = h.Write(contents)
	return strconv.FormatUint(h.Sum64(), 16)
}

func (m *Manifest) AddChunk(entry string, f File) {
	m.Chunks[entry] = append(m.Chunks[entry], f)
}

func (m *Manifest) AddAsset(name string, f File) {
	m.Assets[name] = f
}

// Bundle returns the files of an entry, optionally limited to one extension
// such as "js" or "css".
func (m *Manifest) Bundle(entry, ext string) ([]File, error) {
	files, ok := m.Chunks[entry]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, entry)
	}
	if ext == "" {
		return files, nil
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	var out []File
	for _, f := range files {
		if f.Ext() == ext {
			out = append(out, f)
		}
	}
	return out, nil
}

// Write stores the manifest at path. The file is replaced atomically so a
// reader never sees a partial manifest.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a manifest and checks its schema version.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - manifest path is operator supplied
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	if m.Chunks == nil {
		m.Chunks = map[string][]File{}
	}
	if m.Assets == nil {
		m.Assets = map[string]File{}
	}
	return &m, nil
}

// Verify checks that every listed entry has files and that every referenced
// file exists on disk with the recorded size and checksum.
func Verify(m *Manifest, entries []string) error {
	var errs []error

	for _, entry := range entries {
		if len(m.Chunks[entry]) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownEntry, entry))
		}
	}

	check := func(f File) {
		data, err := os.ReadFile(f.Path) // #nosec G304 - path recorded by the build
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFile, f.Path))
				return
			}
			errs = append(errs, err)
			return
		}
		if int64(len(data)) != f.Size || Checksum(data) != f.CRC64 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Path))
		}
	}

	for _, files := range m.Chunks {
		for _, f := range files {
			check(f)
		}
	}
	for _, f := range m.Assets {
		check(f)
	}

	return errors.Join(errs...)
}
