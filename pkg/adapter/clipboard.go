package adapter

import (
	"github.com/atotto/clipboard"
	"github.com/m-mizutani/goerr/v2"
)

// Clipboard is the system clipboard. Only text is exchanged; pasted images
// arrive as data URIs or file paths.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

type systemClipboard struct{}

// NewClipboard returns the system clipboard
func NewClipboard() Clipboard {
	return &systemClipboard{}
}

func (c *systemClipboard) ReadText() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", goerr.Wrap(err, "failed to read clipboard")
	}
	return text, nil
}

func (c *systemClipboard) WriteText(text string) error {
	if clipboard.Unsupported {
		return goerr.New("clipboard is not supported on this system")
	}
	if err := clipboard.WriteAll(text); err != nil {
		return goerr.Wrap(err, "failed to write clipboard", goerr.V("length", len(text)))
	}
	return nil
}
