package media

import (
	"errors"
	"fmt"
)

type ErrUnsupportedFileType struct {
	error
}

func NewErrUnsupportedFileType(name, mimeType string) *ErrUnsupportedFileType {
	if mimeType == "" {
		mimeType = "unknown type"
	}
	return &ErrUnsupportedFileType{fmt.Errorf("unsupported file type: %s (%s)", name, mimeType)}
}

type ErrArchiveExtraction struct {
	error
}

func NewErrArchiveExtraction(err error) *ErrArchiveExtraction {
	return &ErrArchiveExtraction{fmt.Errorf("could not extract archive: %w", err)}
}

func (e *ErrArchiveExtraction) Unwrap() error {
	return errors.Unwrap(e.error)
}

type ErrEmptyArchive struct {
	error
}

func NewErrEmptyArchive() *ErrEmptyArchive {
	return &ErrEmptyArchive{errors.New("no video files found in archive")}
}
