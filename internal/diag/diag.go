// Package diag writes diagnostics bundles: a JSON session snapshot,
// zstd-compressed so it stays small enough to paste into a bug report.
package diag

import (
	"encoding/json"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/webadb/usbadb/adb/adbdev"
)

// Bundle is the serialised form of a diagnostics bundle.
type Bundle struct {
	CreatedAt time.Time       `json:"created_at"`
	Version   string          `json:"version"`
	Snapshot  adbdev.Snapshot `json:"snapshot"`
}

// WriteBundle writes a zstd-compressed JSON bundle for a snapshot.
func WriteBundle(w io.Writer, version string, snap adbdev.Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Bundle{
		CreatedAt: time.Now(),
		Version:   version,
		Snapshot:  snap,
	}); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadBundle decompresses and parses a bundle.
func ReadBundle(r io.Reader) (*Bundle, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var b Bundle
	if err := json.NewDecoder(zr).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
