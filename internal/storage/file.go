package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/FranksOps/happytweet/internal/failure"
)

// StdoutPath is the default destination; it is written as a plain stream.
const StdoutPath = "/dev/stdout"

// DefaultPerm is used for destinations that do not exist yet.
const DefaultPerm fs.FileMode = 0o644

// IsStdout reports whether destination names standard output.
func IsStdout(destination string) bool {
	return destination == "" || destination == "-" || destination == StdoutPath
}

// WriteFileAtomic writes data to a sibling temp file and renames it over path,
// so a crash never leaves a half-written document behind.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	const op = "write output"

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return failure.Wrap(failure.KindIO, op, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return failure.Wrap(failure.KindIO, op, err)
	}
	if err = tmp.Sync(); err != nil {
		return failure.Wrap(failure.KindIO, op, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return failure.Wrap(failure.KindIO, op, err)
	}
	if err = tmp.Close(); err != nil {
		return failure.Wrap(failure.KindIO, op, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return failure.Wrap(failure.KindIO, op, err)
	}
	return nil
}
