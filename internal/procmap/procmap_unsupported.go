//go:build !linux

package procmap

import "fmt"

type unsupportedProvider struct{}

// NewProvider returns the platform Provider for this GOOS.
func NewProvider() Provider { return unsupportedProvider{} }

func (unsupportedProvider) Executable() ([]Mapping, error) {
	return nil, fmt.Errorf("procmap: module enumeration is not implemented on this GOOS")
}

func (unsupportedProvider) Module(string) ([]Mapping, error) {
	return nil, fmt.Errorf("procmap: module enumeration is not implemented on this GOOS")
}
