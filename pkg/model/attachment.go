package model

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidDataURI = goerr.New("invalid data URI")
)

type AttachmentID string

// NewAttachmentID generates a new unique AttachmentID
func NewAttachmentID() AttachmentID {
	return AttachmentID(uuid.New().String())
}

// AttachedImage is an image attached to the request being edited. Data holds a
// data URI ("data:<mime>;base64,<payload>") so it can be displayed as is.
type AttachedImage struct {
	ID       AttachmentID
	Data     string
	MimeType string
}

// NewAttachedImage encodes raw image bytes as a data URI
func NewAttachedImage(mimeType string, raw []byte) *AttachedImage {
	return &AttachedImage{
		ID:       NewAttachmentID(),
		Data:     "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw),
		MimeType: mimeType,
	}
}

// Bytes strips the data URI header and returns the decoded image bytes
func (a *AttachedImage) Bytes() ([]byte, error) {
	_, raw, err := ParseDataURI(a.Data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode attachment", goerr.V("attachment_id", a.ID))
	}
	return raw, nil
}

// Size returns the number of decoded bytes, or 0 if Data is malformed
func (a *AttachedImage) Size() int {
	_, payload, ok := strings.Cut(a.Data, ",")
	if !ok {
		return 0
	}
	return base64.StdEncoding.DecodedLen(len(payload))
}

// ParseDataURI splits a base64 data URI into its media type and payload
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "missing data: scheme")
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "missing payload separator")
	}

	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "payload is not base64", goerr.V("header", header))
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, goerr.Wrap(ErrInvalidDataURI, "failed to decode payload", goerr.V("reason", err.Error()))
	}

	return mediaType, raw, nil
}

// IsImageType reports whether a declared content type is an image type
func IsImageType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}
