// Package wire also hosts the gzip+base64 blob transport and the blake3
// content-hash helpers shared by agent and server, per spec.md §6: decode
// order is strict — base64 -> gunzip -> UTF-8 text -> TOML parse -> validate.
package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// GzipBase64 compresses data and base64-encodes the result.
func GzipBase64(data []byte) (string, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// UngzipBase64 reverses GzipBase64.
func UngzipBase64(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()
	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return data, nil
}

// ContentHash returns the hex-encoded blake3 hash of data, used to compare
// tasks.toml content without transporting the whole file.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}
