package generate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dontdude/testgen/internal/domain"
	"github.com/dontdude/testgen/internal/platform/session"
	"github.com/dontdude/testgen/internal/platform/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGenerator is a mock implementation of domain.Generator.
// Stream replays the chunks returned as the first mock value.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, history []domain.Turn, prompt string) (string, error) {
	args := m.Called(ctx, history, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockGenerator) Stream(ctx context.Context, history []domain.Turn, prompt string, onChunk func(string) error) (string, error) {
	args := m.Called(ctx, history, prompt)
	if err := args.Error(1); err != nil {
		return "", err
	}
	chunks := args.Get(0).([]string)
	for _, c := range chunks {
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	return strings.Join(chunks, ""), nil
}

func promptContaining(s string) interface{} {
	return mock.MatchedBy(func(prompt string) bool { return strings.Contains(prompt, s) })
}

func newTestStager(t *testing.T) *staging.Dir {
	t.Helper()
	d, err := staging.New(filepath.Join(t.TempDir(), "uploads"), 0)
	require.NoError(t, err)
	return d
}

func stagedFiles(t *testing.T, d *staging.Dir) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(d.Root(), "*.upload"))
	require.NoError(t, err)
	return matches
}

func TestSubmitEndToEnd(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	gen.On("Generate", mock.Anything, []domain.Turn(nil), promptContaining("def add(a,b): return a+b")).
		Return("2\nTest add(1,2)==3\nTest add(-1,1)==0", nil)

	res, err := svc.Submit(context.Background(), domain.Submission{Code: "def add(a,b): return a+b"})
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Count: "2", Cases: "Test add(1,2)==3\nTest add(-1,1)==0"}, res)
	gen.AssertExpectations(t)
}

func TestSubmitInlineCodeWinsOverUpload(t *testing.T) {
	gen := new(MockGenerator)
	stager := newTestStager(t)
	svc := NewService(gen, stager, nil, Options{KeepUploads: true})

	gen.On("Generate", mock.Anything, mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "inline()") && !strings.Contains(p, "from_file()")
	})).Return("1\nok", nil)

	_, err := svc.Submit(context.Background(), domain.Submission{
		Code:   "  inline()  ",
		Upload: &domain.Upload{Filename: "f.py", Content: strings.NewReader("from_file()")},
	})
	require.NoError(t, err)
	assert.Empty(t, stagedFiles(t, stager), "upload must not be staged when inline code is present")
	gen.AssertExpectations(t)
}

func TestSubmitWithoutInputIsInvalid(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	for _, sub := range []domain.Submission{
		{},
		{Code: "   \n\t"},
		{Upload: &domain.Upload{Filename: "x.py"}},
	} {
		_, err := svc.Submit(context.Background(), sub)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	}
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitBlankUploadIsInvalid(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	_, err := svc.Submit(context.Background(), domain.Submission{
		Upload: &domain.Upload{Filename: "empty.py", Content: strings.NewReader("  \n")},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSubmitUploadIsStagedByteForByte(t *testing.T) {
	gen := new(MockGenerator)
	stager := newTestStager(t)
	svc := NewService(gen, stager, nil, Options{KeepUploads: true})

	content := "def add(a, b):\n    return a + b\n"
	gen.On("Generate", mock.Anything, mock.Anything, promptContaining(content)).Return("1\ncase", nil)

	res, err := svc.Submit(context.Background(), domain.Submission{
		Upload: &domain.Upload{Filename: "sample.py", Content: strings.NewReader(content)},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", res.Count)

	files := stagedFiles(t, stager)
	require.Len(t, files, 1)
	onDisk, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, content, string(onDisk))
	gen.AssertExpectations(t)
}

func TestSubmitRemovesUploadWhenNotKept(t *testing.T) {
	gen := new(MockGenerator)
	stager := newTestStager(t)
	svc := NewService(gen, stager, nil, Options{KeepUploads: false})

	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("1\ncase", nil)

	_, err := svc.Submit(context.Background(), domain.Submission{
		Upload: &domain.Upload{Filename: "a.go", Content: strings.NewReader("package a")},
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(stager.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitUpstreamFailure(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("quota exceeded")).Once()

	_, err := svc.Submit(context.Background(), domain.Submission{Code: "x = 1"})
	assert.ErrorIs(t, err, domain.ErrUpstream)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestSubmitStructuredFallsBackToSplit(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{Structured: true})

	gen.On("Generate", mock.Anything, mock.Anything, promptContaining("json()")).
		Return(`{"num_test_cases": 1, "test_cases": ["only"]}`, nil)
	gen.On("Generate", mock.Anything, mock.Anything, promptContaining("prose()")).
		Return("2\nA\nB", nil)

	res, err := svc.Submit(context.Background(), domain.Submission{Code: "json()"})
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Count: "1", Cases: "only"}, res)

	res, err = svc.Submit(context.Background(), domain.Submission{Code: "prose()"})
	require.NoError(t, err)
	assert.Equal(t, domain.Result{Count: "2", Cases: "A\nB"}, res)
}

func TestRequestsWithoutSessionAreIsolated(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), session.NewMemory(time.Hour, 0), Options{})

	gen.On("Generate", mock.Anything, []domain.Turn(nil), mock.Anything).Return("1\nx", nil).Twice()

	for i := 0; i < 2; i++ {
		res, err := svc.Submit(context.Background(), domain.Submission{Code: "a()"})
		require.NoError(t, err)
		assert.Empty(t, res.SessionID)
	}
	gen.AssertExpectations(t)
}

func TestSessionHistoryIsThreaded(t *testing.T) {
	gen := new(MockGenerator)
	store := session.NewMemory(time.Hour, 0)
	svc := NewService(gen, newTestStager(t), store, Options{})
	ctx := context.Background()

	gen.On("Generate", mock.Anything, []domain.Turn(nil), promptContaining("first()")).Return("1\nA", nil).Once()
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(h []domain.Turn) bool {
		return len(h) == 2 &&
			h[0].Role == domain.RoleUser && strings.Contains(h[0].Text, "first()") &&
			h[1].Role == domain.RoleModel && h[1].Text == "1\nA"
	}), promptContaining("second()")).Return("1\nB", nil).Once()

	res, err := svc.Submit(ctx, domain.Submission{Code: "first()", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)

	res, err = svc.Submit(ctx, domain.Submission{Code: "second()", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "B", res.Cases)

	h, err := store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, h, 4)
	gen.AssertExpectations(t)

	require.NoError(t, svc.ResetSession(ctx, "s1"))
	h, err = store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestSessionHistoryIsCapped(t *testing.T) {
	gen := new(MockGenerator)
	store := session.NewMemory(time.Hour, 0)
	svc := NewService(gen, newTestStager(t), store, Options{MaxTurns: 2})
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s",
		domain.Turn{Role: domain.RoleUser, Text: "old"},
		domain.Turn{Role: domain.RoleModel, Text: "old reply"},
		domain.Turn{Role: domain.RoleUser, Text: "recent"},
		domain.Turn{Role: domain.RoleModel, Text: "recent reply"},
	))

	gen.On("Generate", mock.Anything, []domain.Turn{
		{Role: domain.RoleUser, Text: "recent"},
		{Role: domain.RoleModel, Text: "recent reply"},
	}, mock.Anything).Return("1\nx", nil).Once()

	_, err := svc.Submit(ctx, domain.Submission{Code: "c()", SessionID: "s"})
	require.NoError(t, err)
	gen.AssertExpectations(t)
}

func TestFailedGenerationDoesNotTouchSession(t *testing.T) {
	gen := new(MockGenerator)
	store := session.NewMemory(time.Hour, 0)
	svc := NewService(gen, newTestStager(t), store, Options{})
	ctx := context.Background()

	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("boom"))

	_, err := svc.Submit(ctx, domain.Submission{Code: "c()", SessionID: "s"})
	assert.ErrorIs(t, err, domain.ErrUpstream)

	h, err := store.History(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestStreamForwardsChunks(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	gen.On("Stream", mock.Anything, []domain.Turn(nil), promptContaining("f()")).
		Return([]string{"2\nfirst", " case\nsecond", " case"}, nil)

	var got []string
	res, err := svc.Stream(context.Background(), domain.Submission{Code: "f()"}, func(c string) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2\nfirst", " case\nsecond", " case"}, got)
	assert.Equal(t, domain.Result{Count: "2", Cases: "first case\nsecond case"}, res)
}

func TestStreamConsumerErrorIsNotUpstreamFailure(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	gen.On("Stream", mock.Anything, mock.Anything, mock.Anything).Return([]string{"1\n", "x"}, nil)

	_, err := svc.Stream(context.Background(), domain.Submission{Code: "f()"}, func(string) error {
		return errors.New("client went away")
	})
	assert.ErrorIs(t, err, domain.ErrStreamConsumer)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
}

func TestSubmitKeepsDeadlineInErrorChain(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(gen, newTestStager(t), nil, Options{})

	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", context.DeadlineExceeded)

	_, err := svc.Submit(context.Background(), domain.Submission{Code: "x = 1"})
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOddMaxTurnsKeepsHistoryStartingWithUser(t *testing.T) {
	gen := new(MockGenerator)
	store := session.NewMemory(time.Hour, 0)
	svc := NewService(gen, newTestStager(t), store, Options{MaxTurns: 3})
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s",
		domain.Turn{Role: domain.RoleUser, Text: "old"},
		domain.Turn{Role: domain.RoleModel, Text: "old reply"},
		domain.Turn{Role: domain.RoleUser, Text: "recent"},
		domain.Turn{Role: domain.RoleModel, Text: "recent reply"},
	))

	gen.On("Generate", mock.Anything, []domain.Turn{
		{Role: domain.RoleUser, Text: "recent"},
		{Role: domain.RoleModel, Text: "recent reply"},
	}, mock.Anything).Return("1\nx", nil).Once()

	_, err := svc.Submit(ctx, domain.Submission{Code: "c()", SessionID: "s"})
	require.NoError(t, err)
	gen.AssertExpectations(t)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var k keyedMutex
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Empty(t, k.locks, "idle keys are released")
}
