//go:build !yzma

package runtime

// This file provides the no-backend stub compiled when the 'yzma' build tag
// is NOT set, keeping default builds and CI free of native libraries. The
// real backend lives in yzma.go (tagged 'yzma').

// New refuses to construct a runtime without the 'yzma' build tag. Tests
// drive the core through an in-memory fake instead.
func New() (Runtime, error) {
	return nil, ErrUnavailable
}
