package lsmkv

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const metadataFileName = "metadata.json"

// metadataDoc is the on-disk JSON shape of metadata.json (spec §6).
type metadataDoc struct {
	DefaultTTL  int64 `json:"defaultTTL"`
	LastUpdated int64 `json:"lastUpdated"`
}

func metadataPath(dataDir string) string {
	return filepath.Join(dataDir, metadataFileName)
}

// loadMetadata reads metadata.json, if present. A missing file is reported as
// (nil, nil).
func loadMetadata(dataDir string) (*metadataDoc, error) {
	b, err := os.ReadFile(metadataPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var doc metadataDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata file: %w", err)
	}
	return &doc, nil
}

// persistMetadata writes metadata.json via write-to-temp + rename.
func persistMetadata(dataDir string, defaultTTL, nowMillis int64) error {
	doc := metadataDoc{DefaultTTL: defaultTTL, LastUpdated: nowMillis}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	path := metadataPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("failed to write temp metadata file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename metadata file into place %q: %w", path, err)
	}
	return nil
}
