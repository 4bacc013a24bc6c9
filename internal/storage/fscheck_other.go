//go:build !darwin && !linux

package storage

// filesystemType has no mount inspection on this platform.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
