// Package similarity finds exact and near duplicate files
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashReader returns the hex SHA-256 of everything read from r and the
// number of bytes read
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()

	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content, %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func HashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file, %w", err)
	}
	defer f.Close()

	return HashReader(f)
}
