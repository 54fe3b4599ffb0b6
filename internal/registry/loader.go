// Package registry discovers loadable model files on disk. The engine's
// model registry only knows models loaded by explicit path; this scanner
// backs the discovery endpoint that tells callers what they could load.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vladfaust/simularity/internal/common/fsutil"
	"github.com/vladfaust/simularity/pkg/types"
)

// ScanDir lists *.gguf files in dir. The suggested id is the filename
// without extension; Path is absolute.
func ScanDir(dir string) ([]types.AvailableModel, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.AvailableModel
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		models = append(models, types.AvailableModel{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			Path: filepath.Join(abs, name),
			Size: uint64(info.Size()),
		})
	}
	return models, nil
}
