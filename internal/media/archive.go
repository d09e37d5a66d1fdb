package media

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// DefaultMaxArchiveBytes bounds the decompressed size of the videos kept from
// one archive.
const DefaultMaxArchiveBytes int64 = 4 << 30

// Extract expands a zip archive in memory and returns one item per video
// entry. Directory markers and entries without a recognized video extension
// are skipped. An archive without any video entry is an error.
func Extract(data []byte, maxBytes int64) ([]Item, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArchiveBytes
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, NewErrArchiveExtraction(err)
	}

	var (
		items   []Item
		total   int64
		skipped int
	)
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") || !IsVideoExtension(f.Name) {
			skipped++
			continue
		}

		content, err := readEntry(f, maxBytes-total)
		if err != nil {
			return nil, NewErrArchiveExtraction(fmt.Errorf("%s: %w", f.Name, err))
		}
		total += int64(len(content))

		items = append(items, Item{
			Name:     baseName(f.Name),
			MIMEType: VideoMIMEType(f.Name),
			Size:     int64(len(content)),
			Data:     content,
		})
	}

	zap.S().Named("media").Debugw("archive extracted", "entries", len(r.File), "videos", len(items), "skipped", skipped, "bytes", total)

	if len(items) == 0 {
		return nil, NewErrEmptyArchive()
	}
	return items, nil
}

func readEntry(f *zip.File, remaining int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// read one byte past the budget so an oversized entry is detected
	// without trusting the size recorded in the header
	content, err := io.ReadAll(io.LimitReader(rc, remaining+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > remaining {
		return nil, fmt.Errorf("decompressed videos exceed the %d bytes limit", remaining)
	}
	return content, nil
}
