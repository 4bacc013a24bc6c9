package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// fingerprintLen is the number of hex digits shown in logs and status.
const fingerprintLen = 12

// FileDigest streams the file at path through BLAKE3 and returns the hex sum.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint identifies the revision of the config file a process loaded.
// Configs built in memory, or whose file has since vanished, have none.
func (c *Config) Fingerprint() string {
	if c.SourcePath == "" {
		return ""
	}
	sum, err := FileDigest(c.SourcePath)
	if err != nil {
		return ""
	}
	return sum[:fingerprintLen]
}
