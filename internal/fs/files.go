package fs

import (
	"errors"
	"io/fs"
	"os"
)

// errFound stops the walk as soon as one file turns up.
var errFound = errors.New("file found")

// DirContainsFiles reports whether the directory tree rooted at dir holds at
// least one regular file. An install stage that produced an empty staging
// tree is an error, and this is how it gets caught.
func DirContainsFiles(dir string) (bool, error) {
	err := fs.WalkDir(os.DirFS(dir), ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return errFound
		}
		return nil
	})
	switch {
	case errors.Is(err, errFound):
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}
