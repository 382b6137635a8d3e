package refine

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/model"
	"github.com/m-mizutani/refiner/pkg/output"
	"github.com/m-mizutani/refiner/pkg/usecase/history"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
)

// ErrorSuffix is appended to the output when a generation fails
const ErrorSuffix = "\n\n[Error: Failed to generate response. Please try again.]"

var (
	ErrBusy         = goerr.New("generation is in progress")
	ErrEmptyRequest = goerr.New("request has neither text nor images")
)

// Session is the working state of the refiner: the request being edited, its
// attachments, the streamed output and the generation status. All mutations go
// through its methods.
type Session struct {
	generator *Generator
	history   *history.Store
	archive   bool

	mu     sync.Mutex
	input  string
	images []*model.AttachedImage
	output *output.Buffer
	status model.GenerationStatus
	cancel context.CancelFunc
}

// Option is a functional option for Session
type Option func(*Session)

// WithoutArchive disables archiving completed refinements to history
func WithoutArchive() Option {
	return func(s *Session) {
		s.archive = false
	}
}

// NewSession creates an idle session
func NewSession(generator *Generator, store *history.Store, opts ...Option) *Session {
	s := &Session{
		generator: generator,
		history:   store,
		archive:   true,
		output:    output.NewBuffer(),
		status:    model.StatusIdle,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetInput replaces the request text
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the request text
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Attach appends images to the attachment set
func (s *Session) Attach(images ...*model.AttachedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range images {
		if img != nil {
			s.images = append(s.images, img)
		}
	}
}

// RemoveAttachment drops the attachment with id. It reports whether one was
// removed.
func (s *Session) RemoveAttachment(id model.AttachmentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.images)
	s.images = slices.DeleteFunc(s.images, func(img *model.AttachedImage) bool {
		return img.ID == id
	})
	return len(s.images) != n
}

// Attachments returns the current attachments in order
func (s *Session) Attachments() []*model.AttachedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.images)
}

// Status returns the generation status
func (s *Session) Status() model.GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Output returns the output text
func (s *Session) Output() string {
	return s.output.String()
}

// View returns the display form of the output
func (s *Session) View() output.View {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	return output.Render(s.output.String(), status)
}

// HasWork reports whether there is any input, attachment or output to lose
func (s *Session) HasWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input != "" || len(s.images) > 0 || s.output.Len() > 0
}

// Submit refines the current input and attachments. Deltas are accumulated in
// the output buffer and also written to sink when it is not nil.
//
// On success the status becomes Complete, a non-empty result is archived and
// the submitted attachments are discarded. On failure the status becomes Error,
// ErrorSuffix is appended to the partial output, nothing is archived and the
// error is returned.
func (s *Session) Submit(ctx context.Context, sink Sink) (*model.HistoryItem, error) {
	s.mu.Lock()
	if s.status == model.StatusGenerating {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	input := s.input
	images := slices.Clone(s.images)
	if strings.TrimSpace(input) == "" && len(images) == 0 {
		s.mu.Unlock()
		return nil, ErrEmptyRequest
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.status = model.StatusGenerating
	s.output.Reset()
	s.mu.Unlock()

	sinks := teeSink{s.output}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	err := s.generator.Refine(ctx, input, images, sinks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil

	if err != nil {
		s.status = model.StatusError
		sinks.Write(ErrorSuffix)
		return nil, goerr.Wrap(err, "failed to refine prompt", goerr.V("images", len(images)))
	}

	s.status = model.StatusComplete
	s.images = slices.DeleteFunc(s.images, func(img *model.AttachedImage) bool {
		return slices.Contains(images, img)
	})

	if !s.archive {
		return nil, nil
	}

	item, err := s.history.Add(ctx, input, s.output.String())
	if err != nil {
		// Persistence is best effort; the refinement itself succeeded
		logging.From(ctx).Warn("failed to archive refinement", "error", err)
	}
	return item, nil
}

// Cancel aborts an in-flight generation. It reports whether one was running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Reset clears input, attachments and output and returns to Idle
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == model.StatusGenerating {
		return ErrBusy
	}

	s.input = ""
	s.images = nil
	s.output.Reset()
	s.status = model.StatusIdle
	return nil
}

// SelectHistory restores an archived refinement into the working state.
// Attachments are cleared since history does not keep images.
func (s *Session) SelectHistory(id model.HistoryID) (*model.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == model.StatusGenerating {
		return nil, ErrBusy
	}

	item, err := s.history.Select(id)
	if err != nil {
		return nil, err
	}

	s.input = item.OriginalPrompt
	s.images = nil
	s.output.Reset()
	s.output.Write(item.RefinedPrompt)
	s.status = model.StatusComplete
	return item, nil
}

// History returns the archived refinements newest-first
func (s *Session) History() []*model.HistoryItem {
	return s.history.List()
}

// DeleteHistory removes an archived refinement
func (s *Session) DeleteHistory(ctx context.Context, id model.HistoryID) error {
	return s.history.Delete(ctx, id)
}

// ClearHistory removes all archived refinements
func (s *Session) ClearHistory(ctx context.Context) error {
	return s.history.Clear(ctx)
}

type teeSink []Sink

func (t teeSink) Write(delta string) {
	for _, s := range t {
		s.Write(delta)
	}
}
