package gemini

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/genai"
)

// fakeFiles is an in-memory FileService. Get returns the states in order and
// repeats the last one once exhausted.
type fakeFiles struct {
	mu sync.Mutex

	uploadState genai.FileState
	uploadErr   error
	states      []genai.FileState
	getErr      error
	blockGet    bool
	deleteErr   error

	uploads int
	gets    int
	deletes int
	deleted []string
}

func (f *fakeFiles) UploadFromPath(_ context.Context, path string, cfg *genai.UploadFileConfig) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	state := f.uploadState
	if state == "" {
		state = genai.FileStateProcessing
	}
	return &genai.File{
		Name:        "files/" + filepath.Base(path),
		DisplayName: cfg.DisplayName,
		URI:         "https://generativelanguage.googleapis.com/v1beta/files/" + filepath.Base(path),
		MIMEType:    cfg.MIMEType,
		State:       state,
	}, nil
}

func (f *fakeFiles) Get(ctx context.Context, name string, _ *genai.GetFileConfig) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.blockGet {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	state := genai.FileStateProcessing
	if len(f.states) > 0 {
		idx := f.gets - 1
		if idx >= len(f.states) {
			idx = len(f.states) - 1
		}
		state = f.states[idx]
	}
	return &genai.File{
		Name:     name,
		URI:      "https://generativelanguage.googleapis.com/v1beta/" + name,
		MIMEType: "text/plain",
		State:    state,
	}, nil
}

func (f *fakeFiles) Delete(_ context.Context, name string, _ *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	f.deleted = append(f.deleted, name)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &genai.DeleteFileResponse{}, nil
}

func (f *fakeFiles) counts() (uploads, gets, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.gets, f.deletes
}

// fakeModels returns a canned response body and records the last request.
type fakeModels struct {
	mu sync.Mutex

	body string
	err  error

	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (m *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.model = model
	m.contents = contents
	m.config = config
	if m.err != nil {
		return nil, m.err
	}
	return textResponse(m.body), nil
}

func textResponse(body string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: body}},
			},
		}},
	}
}

// writeAttachment creates a small file to upload.
func writeAttachment(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write attachment: %v", err)
	}
	return path
}

// advanceUntilDone advances the fake clock by step each time the poll loop
// parks on a timer, until done is closed.
func advanceUntilDone(clock *clockwork.FakeClock, step time.Duration, done <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
		}
		cancel()
	}()

	for {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			return
		}
		clock.Advance(step)
	}
}
