package resources

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// readMmap maps the file read-only. Zero-length files and filesystems that
// refuse mappings fall back to a plain read.
func readMmap(file *os.File) (*[]byte, error) {
	fileMmap, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
	if mmapErr == nil {
		return (*[]byte)(&fileMmap), nil
	}
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return nil, seekErr
	}
	raw, readErr := io.ReadAll(file)
	if readErr != nil {
		return nil, readErr
	}
	return &raw, nil
}
