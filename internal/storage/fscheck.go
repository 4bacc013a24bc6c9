package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are mount types on which flock(2), SQLite WAL, and
// rename-over-existing do not behave like local disk.
var remoteFilesystems = []string{"9p", "afpfs", "afs", "ceph", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// FilesystemError reports a state path that lives on a network mount.
type FilesystemError struct {
	Setting string
	Path    string
	FSType  string
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %q is on network filesystem %q; a local filesystem is required for the instance lock, the database, and atomic cache writes",
		e.Setting, e.Path, e.FSType)
}

// ValidateLocalPath returns a *FilesystemError when path, or the closest
// ancestor that exists yet, is on a network mount. setting names the config
// key in messages.
func ValidateLocalPath(path, setting string) error {
	return checkLocal(path, setting, filesystemType)
}

func checkLocal(path, setting string, fsType func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", setting, path, err)
	}
	name, err := fsType(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isRemote(name) {
		return &FilesystemError{Setting: setting, Path: path, FSType: name}
	}
	return nil
}

// existingAncestor walks up from path until it finds something that exists.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor")
		}
		p = parent
	}
}

// isRemote matches exact names and versioned variants such as nfs4.
func isRemote(fsType string) bool {
	name := strings.ToLower(strings.TrimSpace(fsType))
	for _, r := range remoteFilesystems {
		if name == r || strings.HasPrefix(name, r) && strings.Trim(name[len(r):], "0123456789") == "" {
			return true
		}
	}
	return false
}
