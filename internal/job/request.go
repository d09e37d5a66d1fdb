package job

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/montagehq/montage/internal/media"
)

const (
	FormatLandscape = "landscape"
	FormatPortrait  = "portrait"
	FormatSquare    = "square"

	DefaultFormat         = FormatLandscape
	DefaultTargetDuration = 60

	filesField          = "files"
	targetDurationField = "target_duration"
	styleField          = "style"
	formatsField        = "formats"
)

var Formats = []string{FormatLandscape, FormatPortrait, FormatSquare}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes the montage to render. It is built once per submission
// and never changed after it has been encoded.
type Request struct {
	Items          []media.Item `validate:"required,min=1,dive"`
	TargetDuration int          `validate:"min=1,max=3600"`
	Style          string       `validate:"max=64"`
	Format         string       `validate:"oneof=landscape portrait square"`
}

type RequestOpts func(r *Request)

func WithTargetDuration(seconds int) RequestOpts {
	return func(r *Request) {
		r.TargetDuration = seconds
	}
}

func WithStyle(style string) RequestOpts {
	return func(r *Request) {
		r.Style = strings.TrimSpace(style)
	}
}

func WithFormat(format string) RequestOpts {
	return func(r *Request) {
		if format != "" {
			r.Format = strings.ToLower(strings.TrimSpace(format))
		}
	}
}

func NewRequest(items []media.Item, opts ...RequestOpts) (*Request, error) {
	r := &Request{
		Items:          items,
		TargetDuration: DefaultTargetDuration,
		Format:         DefaultFormat,
	}
	for _, o := range opts {
		o(r)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid job request: %w", err)
	}
	return nil
}

// Encode writes the multipart body into a buffer and returns it with its
// content type.
func (r *Request) Encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	contentType, err := r.WriteMultipart(&buf)
	if err != nil {
		return nil, "", err
	}
	return &buf, contentType, nil
}

// WriteMultipart encodes every item as a "files" part carrying its own MIME
// type, followed by the output parameters.
func (r *Request) WriteMultipart(w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)

	for _, item := range r.Items {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, filesField, escapeQuotes(item.Name)))
		h.Set("Content-Type", item.MIMEType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("creating form file %s: %w", item.Name, err)
		}
		if _, err := part.Write(item.Data); err != nil {
			return "", fmt.Errorf("copying %s into multipart: %w", item.Name, err)
		}
	}

	fields := [][2]string{
		{targetDurationField, strconv.Itoa(r.TargetDuration)},
		{styleField, r.Style},
		{formatsField, r.Format},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
