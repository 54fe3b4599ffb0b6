// Package modelhash computes 64-bit content hashes of on-disk model files.
package modelhash

import (
	"bufio"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// File streams the file at path through xxhash64 and returns the digest.
// The whole file participates, tensors included, so the result identifies
// the model content independently of its filename.
func File(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, bufio.NewReaderSize(f, 1<<20)); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}
