package media

// Kind tells how a selected source is turned into media items.
type Kind string

const (
	KindVideo   Kind = "video"
	KindArchive Kind = "archive"
)

// Source is a file chosen by the user, before validation.
type Source struct {
	Name string
	// MIMEType is the type reported by whoever produced the source. It may be
	// empty or generic, in which case the extension and content are used.
	MIMEType string
	Data     []byte
}

// Item is one video that will be uploaded as a "files" part.
type Item struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// Selection is the validated input of a workflow. It always holds at least one
// item.
type Selection struct {
	Source string `json:"source"`
	Kind   Kind   `json:"kind"`
	Items  []Item `json:"items"`
}

func (s *Selection) TotalBytes() int64 {
	var total int64
	for _, it := range s.Items {
		total += it.Size
	}
	return total
}
