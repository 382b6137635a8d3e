// Package ingest turns image files and clipboard pastes into attachments.
package ingest

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// sniffLen is the number of bytes http.DetectContentType looks at
const sniffLen = 512

// Candidate is a file-like source offered for attachment. ContentType is the
// declared type; when it is empty the content is sniffed.
type Candidate struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// FromFile declares the content type of path from its extension
func FromFile(path string) Candidate {
	return Candidate{
		Name:        path,
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// FromBytes wraps in-memory data
func FromBytes(name, contentType string, data []byte) Candidate {
	return Candidate{
		Name:        name,
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromClipboard interprets pasted text. A data URI becomes one candidate and
// each line naming an existing file becomes a file candidate. Anything else
// yields nothing.
func FromClipboard(text string) []Candidate {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "data:") {
		mediaType, raw, err := model.ParseDataURI(text)
		if err != nil {
			return nil
		}
		return []Candidate{FromBytes("clipboard", mediaType, raw)}
	}

	var candidates []Candidate
	for line := range strings.Lines(text) {
		path := strings.Trim(strings.TrimSpace(line), `"'`)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, FromFile(path))
	}
	return candidates
}

// Decode reads all candidates concurrently and returns the image attachments in
// candidate order. Candidates that are not images or cannot be read are
// skipped without error.
func Decode(ctx context.Context, candidates []Candidate) ([]*model.AttachedImage, error) {
	results := make([]*model.AttachedImage, len(candidates))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		eg.Go(func() error {
			img, err := decode(egCtx, c)
			if err != nil {
				logging.From(ctx).Warn("failed to read attachment", "name", c.Name, "error", err)
				return nil
			}
			results[i] = img
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "attachment decoding interrupted")
	}

	images := make([]*model.AttachedImage, 0, len(results))
	for _, img := range results {
		if img != nil {
			images = append(images, img)
		}
	}
	return images, nil
}

func decode(ctx context.Context, c Candidate) (*model.AttachedImage, error) {
	if c.ContentType != "" && !model.IsImageType(c.ContentType) {
		logging.From(ctx).Debug("skip non-image attachment", "name", c.Name, "content_type", c.ContentType)
		return nil, nil
	}

	r, err := c.Open()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open attachment", goerr.V("name", c.Name))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read attachment", goerr.V("name", c.Name))
	}

	contentType := c.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data[:min(len(data), sniffLen)])
		if !model.IsImageType(contentType) {
			logging.From(ctx).Debug("skip non-image attachment", "name", c.Name, "content_type", contentType)
			return nil, nil
		}
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	return model.NewAttachedImage(mediaType, data), nil
}
