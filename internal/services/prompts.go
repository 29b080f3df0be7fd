// Package services – PromptCache
//
// PromptCache is the in-memory projection of live reviewer prompts, one per
// in-progress applicant. It is owned by the VerificationService and holds
// only handles, never records: the store stays the source of truth.
//
// Lifecycle:
//   - Rebuild re-attaches to every durable review_prompt_ref at startup, so a
//     restart never creates a second prompt for the same applicant.
//   - Refresh edits the prompt after a committed change.
//   - Finalize removes the entry and renders the final state. Removal is
//     exactly-once: a concurrent second Finalize or Discard is a no-op.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/observability"
)

// Prompt is one live reviewer prompt.
type Prompt struct {
	ApplicantID string
	Ref         string
	Status      domain.Status
	RefreshedAt time.Time
}

// PromptCache maps applicant ids to live prompts.
type PromptCache struct {
	editor PromptEditor
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*Prompt
}

// NewPromptCache creates an empty cache that renders through editor.
func NewPromptCache(editor PromptEditor) *PromptCache {
	return &PromptCache{
		editor:  editor,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*Prompt),
	}
}

// Rebuild attaches every in-progress applicant and refreshes its prompt.
// Edit failures are logged; the entry stays attached. Returns the number of
// entries attached.
func (c *PromptCache) Rebuild(ctx context.Context, applicants []domain.Applicant) int {
	n := 0
	for i := range applicants {
		a := &applicants[i]
		if !a.Status.IsInProgress() || a.ReviewPromptRef == "" {
			continue
		}
		if err := c.Refresh(ctx, a); err != nil {
			log.Warn().Err(err).Str("applicant_id", a.ID).Msg("prompt refresh on rebuild failed")
		}
		n++
	}
	return n
}

// Attach registers a's prompt if it is not already live.
func (c *PromptCache) Attach(a *domain.Applicant) Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[a.ID]
	if !ok {
		p = &Prompt{ApplicantID: a.ID, Ref: a.ReviewPromptRef, Status: a.Status}
		c.entries[a.ID] = p
		observability.SetLivePrompts(len(c.entries))
	}
	return *p
}

// Refresh attaches a if needed and re-renders its prompt.
func (c *PromptCache) Refresh(ctx context.Context, a *domain.Applicant) error {
	p := c.Attach(a)
	if err := c.editor.EditPrompt(ctx, p.Ref, RenderPrompt(a)); err != nil {
		return err
	}
	c.mu.Lock()
	if e, ok := c.entries[a.ID]; ok {
		e.Status = a.Status
		e.RefreshedAt = c.now()
	}
	c.mu.Unlock()
	return nil
}

// Finalize discards a's entry and, if this call removed it, renders the
// final prompt with the deciding reviewer. It reports whether the entry was
// removed by this call.
func (c *PromptCache) Finalize(ctx context.Context, a *domain.Applicant, decidedBy string) (bool, error) {
	ref, ok := c.take(a.ID)
	if !ok {
		return false, nil
	}
	if ref == "" {
		ref = a.ReviewPromptRef
	}
	content := RenderPrompt(a)
	content.Final = true
	content.DecidedBy = decidedBy
	return true, c.editor.EditPrompt(ctx, ref, content)
}

// Discard removes the entry for id. Safe to call repeatedly.
func (c *PromptCache) Discard(id string) bool {
	_, ok := c.take(id)
	return ok
}

func (c *PromptCache) take(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[id]
	if !ok {
		return "", false
	}
	delete(c.entries, id)
	observability.SetLivePrompts(len(c.entries))
	return p.Ref, true
}

// Get returns a copy of the live entry for id.
func (c *PromptCache) Get(id string) (Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[id]
	if !ok {
		return Prompt{}, false
	}
	return *p, true
}

// Len returns the number of live prompts.
func (c *PromptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops every entry; used on shutdown.
func (c *PromptCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*Prompt)
	c.mu.Unlock()
	observability.SetLivePrompts(0)
}
