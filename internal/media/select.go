package media

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type SelectOpts func(c *selectConfig)

type selectConfig struct {
	maxArchiveBytes int64
}

func WithMaxArchiveBytes(n int64) SelectOpts {
	return func(c *selectConfig) {
		c.maxArchiveBytes = n
	}
}

// Load reads a local file into a Source. The declared MIME type is derived from
// the extension only, content sniffing happens in Select.
func Load(filePath string) (Source, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Source{}, fmt.Errorf("reading %s: %w", filePath, err)
	}
	name := filepath.Base(filePath)
	return Source{
		Name:     name,
		MIMEType: MIMETypeForName(name),
		Data:     data,
	}, nil
}

// Select validates a source and turns it into the media items to upload. A
// video becomes the only item. An archive is expanded in memory and must
// contain at least one video.
func Select(src Source, opts ...SelectOpts) (*Selection, error) {
	cfg := &selectConfig{maxArchiveBytes: DefaultMaxArchiveBytes}
	for _, o := range opts {
		o(cfg)
	}

	kind, mimeType, ok := classify(src)
	if !ok {
		return nil, NewErrUnsupportedFileType(src.Name, mimeType)
	}

	selection := &Selection{Source: src.Name, Kind: kind}
	switch kind {
	case KindVideo:
		selection.Items = []Item{{
			Name:     baseName(src.Name),
			MIMEType: mimeType,
			Size:     int64(len(src.Data)),
			Data:     src.Data,
		}}
	case KindArchive:
		items, err := Extract(src.Data, cfg.maxArchiveBytes)
		if err != nil {
			return nil, err
		}
		selection.Items = items
	}

	zap.S().Named("media").Infow("input selected", "source", src.Name, "kind", kind, "items", len(selection.Items), "bytes", selection.TotalBytes())
	return selection, nil
}
