package modpack

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	json "github.com/goccy/go-json"
)

// ManifestFileName is the manifest entry at the root of a pack archive.
const ManifestFileName = "manifest.json"

// MaxManifestSize bounds how much of a manifest entry is read.
const MaxManifestSize = 16 << 20

var zipMagic = []byte("PK\x03\x04")

// ErrNoManifest is returned when an archive has no manifest.json.
var ErrNoManifest = errors.New("archive does not contain a manifest.json")

// Load reads a manifest from path. The file may be a bare manifest.json or
// a modpack zip containing one at its root.
func Load(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", p)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", p)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses a manifest from raw manifest JSON or zip bytes.
// The raw JSON is schema-validated before it is decoded.
func LoadFromBytes(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest is empty")
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FromZip(bytes.NewReader(data), int64(len(data)))
	}

	if err := ValidateRaw(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return &m, nil
}

// FromZip extracts and parses the root manifest.json of a pack archive.
func FromZip(r io.ReaderAt, size int64) (*Manifest, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open modpack archive: %w", err)
	}

	for _, f := range zr.File {
		if path.Clean(f.Name) != ManifestFileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ManifestFileName, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, MaxManifestSize+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ManifestFileName, err)
		}
		if len(data) > MaxManifestSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", ManifestFileName, MaxManifestSize)
		}
		if bytes.HasPrefix(data, zipMagic) {
			return nil, fmt.Errorf("%s is itself an archive", ManifestFileName)
		}
		return LoadFromBytes(data)
	}
	return nil, ErrNoManifest
}
