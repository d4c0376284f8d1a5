package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type prepareResult struct {
	payload *Payload
	err     error
}

func runPrepare(ctx context.Context, t *testing.T, p *Preparer, clock *clockwork.FakeClock, text, path string) prepareResult {
	t.Helper()

	done := make(chan struct{})
	resCh := make(chan prepareResult, 1)
	go func() {
		defer close(done)
		payload, err := p.Prepare(ctx, text, path)
		resCh <- prepareResult{payload: payload, err: err}
	}()

	advanceUntilDone(clock, DefaultPollInterval, done)
	return <-resCh
}

func TestPrepare_TextOnly(t *testing.T) {
	files := &fakeFiles{}
	p := NewPreparer(files)

	payload, err := p.Prepare(context.Background(), "  lunch with Ana tomorrow at noon ", "")
	require.NoError(t, err)

	require.Len(t, payload.Parts(), 1)
	assert.Equal(t, "lunch with Ana tomorrow at noon", payload.Parts()[0].Text)
	assert.False(t, payload.HasAttachment())

	payload.Release(context.Background())
	uploads, _, deletes := files.counts()
	assert.Zero(t, uploads)
	assert.Zero(t, deletes)
}

func TestPrepare_EmptyInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", " \n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := &fakeFiles{}
			_, err := NewPreparer(files).Prepare(context.Background(), tt.text, "")
			assert.ErrorIs(t, err, ErrEmptyInput)

			uploads, _, _ := files.counts()
			assert.Zero(t, uploads)
		})
	}
}

func TestPrepare_ActiveAfterThirdPoll(t *testing.T) {
	clock := clockwork.NewFakeClock()
	files := &fakeFiles{
		states: []genai.FileState{genai.FileStateProcessing, genai.FileStateProcessing, genai.FileStateActive},
	}
	p := NewPreparer(files, WithClock(clock))
	path := writeAttachment(t, "agenda.txt", "Standup Monday 9am")

	res := runPrepare(context.Background(), t, p, clock, "add these", path)
	require.NoError(t, res.err)

	_, gets, deletes := files.counts()
	assert.Equal(t, 3, gets)
	assert.Zero(t, deletes, "file must stay available until released")

	parts := res.payload.Parts()
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].FileData)
	assert.Equal(t, res.payload.File().URI, parts[0].FileData.FileURI)
	assert.Equal(t, "add these", parts[1].Text)
	assert.Equal(t, FileStateActive, res.payload.File().State)

	res.payload.Release(context.Background())
	res.payload.Release(context.Background())

	_, _, deletes = files.counts()
	assert.Equal(t, 1, deletes)
}

func TestPrepare_AttachmentWithoutText(t *testing.T) {
	files := &fakeFiles{uploadState: genai.FileStateActive}
	p := NewPreparer(files)
	path := writeAttachment(t, "invite.txt", "Dinner Friday 7pm")

	payload, err := p.Prepare(context.Background(), "", path)
	require.NoError(t, err)

	require.Len(t, payload.Parts(), 1)
	assert.NotNil(t, payload.Parts()[0].FileData)
	assert.Equal(t, "text/plain; charset=utf-8", payload.File().MIMEType)

	_, gets, _ := files.counts()
	assert.Zero(t, gets, "an already active file is not polled")
}

func TestPrepare_Failures(t *testing.T) {
	tests := []struct {
		name        string
		files       *fakeFiles
		wantErr     error
		wantGets    int
		wantDeletes int
	}{
		{
			name:        "provider reports failed",
			files:       &fakeFiles{states: []genai.FileState{genai.FileStateProcessing, genai.FileStateFailed}},
			wantErr:     ErrAttachmentProcessing,
			wantGets:    2,
			wantDeletes: 1,
		},
		{
			name:        "never becomes active",
			files:       &fakeFiles{},
			wantErr:     ErrAttachmentTimeout,
			wantGets:    int(DefaultPollTimeout/DefaultPollInterval) - 1,
			wantDeletes: 1,
		},
		{
			name:        "state check fails",
			files:       &fakeFiles{getErr: errors.New("503 unavailable")},
			wantErr:     ErrAttachmentProcessing,
			wantGets:    1,
			wantDeletes: 1,
		},
		{
			name:        "upload fails",
			files:       &fakeFiles{uploadErr: errors.New("413 too large")},
			wantErr:     ErrAttachmentProcessing,
			wantGets:    0,
			wantDeletes: 0,
		},
		{
			name:        "timeout with failing delete",
			files:       &fakeFiles{deleteErr: errors.New("404 not found")},
			wantErr:     ErrAttachmentTimeout,
			wantGets:    int(DefaultPollTimeout/DefaultPollInterval) - 1,
			wantDeletes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			p := NewPreparer(tt.files, WithClock(clock))
			path := writeAttachment(t, "notes.md", "# Week\n- review Tuesday 3pm")

			res := runPrepare(context.Background(), t, p, clock, "schedule these", path)
			require.ErrorIs(t, res.err, tt.wantErr)
			assert.Nil(t, res.payload)

			_, gets, deletes := tt.files.counts()
			assert.Equal(t, tt.wantGets, gets)
			assert.Equal(t, tt.wantDeletes, deletes)
		})
	}
}

func TestPrepare_TimeoutIsHardLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	files := &fakeFiles{
		states: []genai.FileState{genai.FileStateProcessing, genai.FileStateProcessing, genai.FileStateActive},
	}
	p := NewPreparer(files, WithClock(clock),
		WithPollInterval(2*time.Second),
		WithPollTimeout(5*time.Second))
	path := writeAttachment(t, "agenda.txt", "Standup Monday 9am")

	start := clock.Now()
	done := make(chan struct{})
	resCh := make(chan prepareResult, 1)
	go func() {
		defer close(done)
		payload, err := p.Prepare(context.Background(), "add these", path)
		resCh <- prepareResult{payload: payload, err: err}
	}()
	advanceUntilDone(clock, time.Second, done)
	res := <-resCh

	require.ErrorIs(t, res.err, ErrAttachmentTimeout)
	assert.Nil(t, res.payload)
	assert.Equal(t, 5*time.Second, clock.Since(start), "the last wait is cut to the deadline")

	_, gets, deletes := files.counts()
	assert.Equal(t, 2, gets, "no state check after the deadline")
	assert.Equal(t, 1, deletes)
}

func TestPrepare_HungStateCheck(t *testing.T) {
	files := &fakeFiles{blockGet: true}
	p := NewPreparer(files,
		WithPollInterval(10*time.Millisecond),
		WithPollTimeout(100*time.Millisecond))
	path := writeAttachment(t, "agenda.txt", "Standup Monday 9am")

	began := time.Now()
	_, err := p.Prepare(context.Background(), "add these", path)
	require.ErrorIs(t, err, ErrAttachmentTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), 5*time.Second)

	_, gets, deletes := files.counts()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, deletes)
}

func TestPrepare_CancelledWhilePolling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	files := &fakeFiles{}
	p := NewPreparer(files, WithClock(clock))
	path := writeAttachment(t, "agenda.txt", "Sync Thursday")

	ctx, cancel := context.WithCancel(context.Background())
	resCh := make(chan prepareResult, 1)
	go func() {
		payload, err := p.Prepare(ctx, "add", path)
		resCh <- prepareResult{payload: payload, err: err}
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	res := <-resCh
	require.ErrorIs(t, res.err, context.Canceled)

	_, _, deletes := files.counts()
	assert.Equal(t, 1, deletes, "cleanup runs even after cancellation")
}

func TestPrepare_MissingAttachment(t *testing.T) {
	files := &fakeFiles{}
	_, err := NewPreparer(files).Prepare(context.Background(), "x", "/nonexistent/file.pdf")
	require.Error(t, err)

	uploads, _, _ := files.counts()
	assert.Zero(t, uploads)
}

func TestPayload_ReleaseNil(t *testing.T) {
	var p *Payload
	p.Release(context.Background())

	(&Payload{}).Release(context.Background())
}
