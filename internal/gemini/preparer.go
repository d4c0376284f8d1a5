package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/genai"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

const (
	// DefaultPollInterval is the delay between two file state checks.
	DefaultPollInterval = 2 * time.Second

	// DefaultPollTimeout bounds the total time spent waiting for a file to become ACTIVE.
	DefaultPollTimeout = 60 * time.Second

	// DefaultDeleteTimeout bounds the remote delete issued on release.
	DefaultDeleteTimeout = 15 * time.Second
)

// FileState is the lifecycle state of an uploaded attachment.
type FileState string

const (
	FileStateUploading FileState = "UPLOADING"
	FileStateActive    FileState = "ACTIVE"
	FileStateFailed    FileState = "FAILED"
)

// RemoteFile is a handle to an attachment stored by the model provider.
type RemoteFile struct {
	Name        string
	DisplayName string
	URI         string
	MIMEType    string
	State       FileState
}

func toRemoteFile(f *genai.File) *RemoteFile {
	rf := &RemoteFile{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		MIMEType:    f.MIMEType,
	}
	switch f.State {
	case genai.FileStateActive:
		rf.State = FileStateActive
	case genai.FileStateFailed:
		rf.State = FileStateFailed
	default:
		// PROCESSING and STATE_UNSPECIFIED both mean "not ready yet".
		rf.State = FileStateUploading
	}
	return rf
}

// Payload is the ordered multi-part content sent to the model. When it
// references an uploaded file, Release deletes that file; Release may be
// called any number of times and deletes at most once.
type Payload struct {
	parts   []*genai.Part
	file    *RemoteFile
	once    sync.Once
	release func(context.Context)
}

// Contents returns the payload as a single user turn.
func (p *Payload) Contents() []*genai.Content {
	return []*genai.Content{genai.NewContentFromParts(p.parts, genai.RoleUser)}
}

// Parts returns the content parts in order.
func (p *Payload) Parts() []*genai.Part {
	return p.parts
}

// File returns the attachment handle, or nil for text-only payloads.
func (p *Payload) File() *RemoteFile {
	return p.file
}

// HasAttachment reports whether the payload references an uploaded file.
func (p *Payload) HasAttachment() bool {
	return p.file != nil
}

// Release frees the remote file, if any. It runs even if ctx is already cancelled.
func (p *Payload) Release(ctx context.Context) {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(func() { p.release(ctx) })
}

// Preparer turns an instruction and an optional local file into a Payload.
type Preparer struct {
	files         FileService
	clock         clockwork.Clock
	pollInterval  time.Duration
	pollTimeout   time.Duration
	deleteTimeout time.Duration
	logger        *slog.Logger
	metrics       *instrumentation.Metrics
}

// PreparerOption configures a Preparer.
type PreparerOption func(*Preparer)

// WithClock sets the clock driving the poll loop.
func WithClock(c clockwork.Clock) PreparerOption {
	return func(p *Preparer) { p.clock = c }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) PreparerOption {
	return func(p *Preparer) { p.pollInterval = d }
}

// WithPollTimeout overrides DefaultPollTimeout.
func WithPollTimeout(d time.Duration) PreparerOption {
	return func(p *Preparer) { p.pollTimeout = d }
}

// WithPreparerLogger sets the logger.
func WithPreparerLogger(l *slog.Logger) PreparerOption {
	return func(p *Preparer) { p.logger = l }
}

// WithPreparerMetrics sets the metrics recorder.
func WithPreparerMetrics(m *instrumentation.Metrics) PreparerOption {
	return func(p *Preparer) { p.metrics = m }
}

// NewPreparer creates a Preparer backed by files.
func NewPreparer(files FileService, opts ...PreparerOption) *Preparer {
	p := &Preparer{
		files:         files,
		clock:         clockwork.NewRealClock(),
		pollInterval:  DefaultPollInterval,
		pollTimeout:   DefaultPollTimeout,
		deleteTimeout: DefaultDeleteTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare builds the payload for text and, when attachmentPath is set, the
// uploaded file. With an attachment it blocks until the provider reports the
// file ACTIVE, FAILED, the poll timeout passes or ctx is done. On any error
// after upload the remote file has already been released.
func (p *Preparer) Prepare(ctx context.Context, text, attachmentPath string) (*Payload, error) {
	text = strings.TrimSpace(text)

	if attachmentPath == "" {
		if text == "" {
			return nil, ErrEmptyInput
		}
		return &Payload{parts: []*genai.Part{genai.NewPartFromText(text)}}, nil
	}

	logger := logging.WithOperation(p.logger, "prepare_attachment")

	mimeType, err := detectMIMEType(attachmentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	var uploaded *genai.File
	err = track(ctx, p.metrics, instrumentation.OperationUpload, func(ctx context.Context) error {
		var err error
		uploaded, err = p.files.UploadFromPath(ctx, attachmentPath, &genai.UploadFileConfig{
			MIMEType:    mimeType,
			DisplayName: filepath.Base(attachmentPath),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upload: %w", ErrAttachmentProcessing, err)
	}

	file := toRemoteFile(uploaded)
	payload := &Payload{file: file, release: p.releaseFunc(file)}
	logger.Debug("attachment uploaded", "file", file.Name, "mime_type", mimeType, logging.Status(string(file.State)))

	active, err := p.awaitActive(ctx, file)
	if err != nil {
		payload.Release(ctx)
		logger.Warn("attachment not usable", "file", file.Name, logging.Err(err))
		return nil, err
	}

	payload.file = active
	payload.parts = []*genai.Part{genai.NewPartFromURI(active.URI, active.MIMEType)}
	if text != "" {
		payload.parts = append(payload.parts, genai.NewPartFromText(text))
	}
	return payload, nil
}

// awaitActive polls the file state until it leaves UPLOADING. The poll
// timeout is a hard limit: no sleep or state check runs past it.
func (p *Preparer) awaitActive(ctx context.Context, file *RemoteFile) (*RemoteFile, error) {
	deadline := p.clock.Now().Add(p.pollTimeout)
	polls := 0

	timedOut := func() error {
		p.metrics.RecordAttachmentPolls(ctx, "timeout", polls)
		return fmt.Errorf("%w: %s still processing after %s", ErrAttachmentTimeout, file.Name, p.pollTimeout)
	}

	for {
		switch file.State {
		case FileStateActive:
			p.metrics.RecordAttachmentPolls(ctx, "active", polls)
			return file, nil
		case FileStateFailed:
			p.metrics.RecordAttachmentPolls(ctx, "failed", polls)
			return nil, fmt.Errorf("%w: %s reported FAILED", ErrAttachmentProcessing, file.Name)
		}

		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return nil, timedOut()
		}

		timer := p.clock.NewTimer(min(p.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.Chan():
		}

		remaining = deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return nil, timedOut()
		}

		polls++
		got, err := p.getState(ctx, file.Name, remaining)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, timedOut()
		case err != nil:
			return nil, fmt.Errorf("%w: state check: %w", ErrAttachmentProcessing, err)
		}
		file = toRemoteFile(got)
	}
}

// getState fetches the file state, giving up once the poll budget is spent.
func (p *Preparer) getState(ctx context.Context, name string, budget time.Duration) (*genai.File, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var got *genai.File
	err := track(ctx, p.metrics, instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		got, err = p.files.Get(ctx, name, nil)
		return err
	})
	if ctx.Err() != nil {
		// Unanswered, or answered after the deadline.
		return nil, context.DeadlineExceeded
	}
	return got, err
}

func (p *Preparer) releaseFunc(file *RemoteFile) func(context.Context) {
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deleteTimeout)
		defer cancel()

		err := track(ctx, p.metrics, instrumentation.OperationDelete, func(ctx context.Context) error {
			_, err := p.files.Delete(ctx, file.Name, nil)
			return err
		})
		if err != nil {
			// The provider expires files on its own; a failed delete is not fatal.
			p.logger.Warn("failed to delete uploaded attachment", "file", file.Name, logging.Err(err))
			return
		}
		p.logger.Debug("uploaded attachment deleted", "file", file.Name)
	}
}

func detectMIMEType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t, nil
	}

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}
