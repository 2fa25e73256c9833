package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ComputeChecksum streams the file at the given path through SHA-256 and
// returns the lowercase hex digest. The file is never fully buffered in
// memory, so arbitrarily large media is safe to fingerprint.
func ComputeChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksumming: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
