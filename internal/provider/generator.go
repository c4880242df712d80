package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Generator produces text for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxLength int, temperature float64) (string, error)
}

// ChatGenerator adapts an LLMProvider to Generator. The prompt is sent as
// the system message; the user turn is optional.
type ChatGenerator struct {
	provider LLMProvider
	model    string
}

// NewChatGenerator wraps p. An empty model uses the provider default.
func NewChatGenerator(p LLMProvider, model string) *ChatGenerator {
	return &ChatGenerator{provider: p, model: model}
}

func (g *ChatGenerator) Generate(ctx context.Context, prompt string, maxLength int, temperature float64) (string, error) {
	system, user, found := strings.Cut(prompt, "\n\nUser: ")
	msgs := []Message{{Role: "system", Content: system}}
	if found {
		user, _, _ = strings.Cut(user, "\n\nAssistant:")
		msgs = append(msgs, Message{Role: "user", Content: strings.TrimSpace(user)})
	}
	resp, err := g.provider.Chat(ctx, &ChatRequest{
		Messages:    msgs,
		Model:       g.model,
		MaxTokens:   maxLength,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// ErrBusy is returned by Limited when no slot frees up before the context
// ends.
var ErrBusy = errors.New("generation capacity exhausted")

// Semaphore is a channel-based counting semaphore for concurrency control.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{ch: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot. Must only be called after a successful acquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}

// Cap returns the total capacity.
func (s *Semaphore) Cap() int {
	return cap(s.ch)
}

// Limited bounds the number of concurrent generations.
type Limited struct {
	next Generator
	sem  *Semaphore
}

// NewLimited allows at most n concurrent calls to next.
func NewLimited(next Generator, n int) *Limited {
	return &Limited{next: next, sem: NewSemaphore(n)}
}

func (l *Limited) Generate(ctx context.Context, prompt string, maxLength int, temperature float64) (string, error) {
	if err := l.sem.Acquire(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer l.sem.Release()
	return l.next.Generate(ctx, prompt, maxLength, temperature)
}

// Available reports free generation slots.
func (l *Limited) Available() int { return l.sem.Available() }
