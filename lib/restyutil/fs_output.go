package restyutil

import (
	devenv "codefolio-backend/dev/env"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemOutput writes one `<id>.http` file per dumped exchange into a
// directory that is emptied when the output is created.
type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	dir, err := devenv.ResolvePath(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

var unsafeFilename = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

func (o FilesystemOutput) Write(id string, contents string) {
	name := filepath.Join(o.directory, unsafeFilename.Replace(id)+".http")
	err := os.WriteFile(name, []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write http dump", "id", id, "err", err)
	}
}
