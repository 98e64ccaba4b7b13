package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dontdude/testgen/internal/domain"
)

// Options tunes a Service.
type Options struct {
	// Prompt overrides DefaultPrompt when any field is set.
	Prompt Prompt
	// Structured makes the service try ParseStructured before SplitReply.
	Structured bool
	// KeepUploads leaves staged files in place for the retention sweeper.
	// When false a staged file is removed as soon as its text has been read.
	KeepUploads bool
	// MaxTurns caps the history sent to the model for a session. Zero means unlimited.
	// Odd values are rounded down to whole exchanges.
	MaxTurns int
}

// Service turns a Submission into a Result by prompting the model.
type Service struct {
	gen      domain.Generator
	stager   domain.Stager
	sessions domain.SessionStore
	opts     Options
	locks    keyedMutex
}

// NewService wires the orchestrator. sessions may be nil, in which case session IDs are ignored.
func NewService(gen domain.Generator, stager domain.Stager, sessions domain.SessionStore, opts Options) *Service {
	if opts.Prompt == (Prompt{}) {
		opts.Prompt = DefaultPrompt
	}
	opts.MaxTurns = domain.TurnCap(opts.MaxTurns)
	return &Service{
		gen:      gen,
		stager:   stager,
		sessions: sessions,
		opts:     opts,
	}
}

// Submit resolves the submission, prompts the model and reshapes its reply.
func (s *Service) Submit(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	return s.run(ctx, sub, nil)
}

// Stream is Submit with incremental delivery of the reply through onChunk.
func (s *Service) Stream(ctx context.Context, sub domain.Submission, onChunk func(string) error) (domain.Result, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return s.run(ctx, sub, onChunk)
}

// ResetSession forgets the stored conversation for id.
func (s *Service) ResetSession(ctx context.Context, id string) error {
	if s.sessions == nil {
		return nil
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

func (s *Service) run(ctx context.Context, sub domain.Submission, onChunk func(string) error) (domain.Result, error) {
	code, err := s.resolve(ctx, sub)
	if err != nil {
		return domain.Result{}, err
	}

	prompt := s.opts.Prompt.Build(code)

	sessionID := ""
	if s.sessions != nil {
		sessionID = strings.TrimSpace(sub.SessionID)
	}

	var history []domain.Turn
	if sessionID != "" {
		unlock := s.locks.Lock(sessionID)
		defer unlock()

		history, err = s.sessions.History(ctx, sessionID)
		if err != nil {
			return domain.Result{}, fmt.Errorf("%w: load session: %v", domain.ErrStorage, err)
		}
		switch n := s.opts.MaxTurns; {
		case len(history) == 0:
			history = nil
		case n > 0 && len(history) > n:
			history = history[len(history)-n:]
		}
	}

	var reply string
	if onChunk != nil {
		forward := func(chunk string) error {
			if err := onChunk(chunk); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrStreamConsumer, err)
			}
			return nil
		}
		reply, err = s.gen.Stream(ctx, history, prompt, forward)
	} else {
		reply, err = s.gen.Generate(ctx, history, prompt)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrUpstream) && !errors.Is(err, domain.ErrStreamConsumer) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		return domain.Result{}, err
	}

	if sessionID != "" {
		err := s.sessions.Append(ctx, sessionID,
			domain.Turn{Role: domain.RoleUser, Text: prompt},
			domain.Turn{Role: domain.RoleModel, Text: reply},
		)
		if err != nil {
			// The caller still gets its answer; only the follow-up context is lost.
			slog.Warn("Failed to persist session turns", "sessionID", sessionID, "error", err)
		}
	}

	res := s.reshape(reply)
	res.SessionID = sessionID
	return res, nil
}

// resolve picks the effective code string. Non-blank inline code always wins.
func (s *Service) resolve(ctx context.Context, sub domain.Submission) (string, error) {
	if code := strings.TrimSpace(sub.Code); code != "" {
		return code, nil
	}
	if sub.Upload == nil || sub.Upload.Content == nil {
		return "", domain.ErrInvalidRequest
	}

	staged, err := s.stager.Stage(ctx, sub.Upload.Filename, sub.Upload.Content)
	if err != nil {
		return "", err
	}
	slog.Debug("Staged upload", "uploadID", staged.ID, "filename", staged.OriginalName, "size", staged.Size)

	if !s.opts.KeepUploads {
		defer func() {
			if err := s.stager.Remove(ctx, staged); err != nil {
				slog.Warn("Failed to remove staged upload", "uploadID", staged.ID, "error", err)
			}
		}()
	}

	code, err := s.stager.Read(ctx, staged)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(code) == "" {
		return "", domain.ErrInvalidRequest
	}
	return code, nil
}

func (s *Service) reshape(reply string) domain.Result {
	if s.opts.Structured {
		if res, ok := ParseStructured(reply); ok {
			return res
		}
		slog.Debug("Structured reply did not parse, falling back to line split")
	}
	return SplitReply(reply)
}
