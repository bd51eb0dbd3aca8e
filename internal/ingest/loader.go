package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/codegraphhq/codegraph/pkg/models"
)

// Supported reports whether path looks like a scan batch file.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadBatch decodes one scan batch file. Language scanners emit batches
// as JSON or YAML; the extension picks the decoder.
func LoadBatch(path string) (*models.ScanBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	var batch models.ScanBatch
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported batch format %q", filepath.Ext(path))
	}

	if len(batch.Files) == 0 {
		return nil, fmt.Errorf("batch %s contains no files", path)
	}
	return &batch, nil
}

// DiscoverBatches lists supported batch files directly under each of the
// given directories.
func DiscoverBatches(dirs []string) ([]string, error) {
	var paths []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !Supported(e.Name()) {
				continue
			}
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
