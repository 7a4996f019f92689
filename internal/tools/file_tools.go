package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// File contents beyond maxFileChars code points keep the first
// fileHead and last fileTail.
const (
	maxFileChars = 50000
	fileHead     = 25000
	fileTail     = 10000
)

// FileTools reads and writes files on behalf of the agent. Relative
// paths resolve against workingDir when it is set.
type FileTools struct {
	workingDir string
}

// NewFileTools creates file tools rooted at workingDir. An empty
// workingDir uses the process working directory.
func NewFileTools(workingDir string) *FileTools {
	return &FileTools{workingDir: workingDir}
}

func (ft *FileTools) resolve(path string) string {
	if ft.workingDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ft.workingDir, path)
}

// Read returns the file's contents as text. Messages name the path
// exactly as the model gave it.
func (ft *FileTools) Read(path string) Result {
	data, err := os.ReadFile(ft.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failure(fmt.Sprintf("(file not found: %s)", path))
		}
		return failure(fmt.Sprintf("(error reading %s: %v)", path, err))
	}
	if !utf8.Valid(data) {
		return failure(fmt.Sprintf("(error reading %s: file is not valid UTF-8 text)", path))
	}
	return textResult(truncateMiddle(string(data), maxFileChars, fileHead, fileTail))
}

// Write replaces the file's contents, creating parent directories.
func (ft *FileTools) Write(path, content string) Result {
	full := ft.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return failure(fmt.Sprintf("(error writing %s: %v)", path, err))
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return failure(fmt.Sprintf("(error writing %s: %v)", path, err))
	}
	return textResult(fmt.Sprintf("Written: %s", path))
}
