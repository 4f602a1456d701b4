package output

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/shadowprobe/internal/hash/sha256"
	"github.com/JakeFAU/shadowprobe/internal/probe"
)

// BlobStore persists encoded artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Artifact describes a stored report.
type Artifact struct {
	URI    string
	SHA256 string
}

var hasher = sha256.New()

// WriteArtifact encodes results in the format implied by path and stores them.
func WriteArtifact(ctx context.Context, store BlobStore, path string, results []probe.Result) (Artifact, error) {
	format := FormatFor(path)
	var buf bytes.Buffer
	if err := Encode(&buf, format, results); err != nil {
		return Artifact{}, err
	}
	digest := hasher.Hash(buf.Bytes())
	uri, err := store.PutObject(ctx, path, format.ContentType(), &buf)
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact %s: %w", path, err)
	}
	return Artifact{URI: uri, SHA256: digest}, nil
}
