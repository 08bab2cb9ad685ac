// Package pipeline implements the per-message conversation crisis pipeline:
// crisis matching, branch selection, persistence, and response assembly.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-app/amparo/internal/crisis"
	"github.com/amparo-app/amparo/internal/storage"
)

// idempotencyTTL is how long a processed message key answers duplicates.
const idempotencyTTL = 24 * time.Hour

// RuleStore provides the full crisis rule set, fetched fresh per request.
// Implemented by storage.Store.
type RuleStore interface {
	ListCrisisRules() ([]storage.CrisisRule, error)
}

// MessageStore appends messages to the conversation log.
// Implemented by storage.Store.
type MessageStore interface {
	InsertMessage(storage.Message) error
}

// IdempotencyStore records produced responses keyed by client-supplied
// message keys. Implemented by storage.Store.
type IdempotencyStore interface {
	GetIdempotentResult(userID, conversationID, key string) (string, error)
	SaveIdempotentResult(userID, conversationID, key, responseJSON string, ttl time.Duration) error
}

// ContextBuilder produces the user-context prefix for the generative prompt.
// Implemented by recovery.ContextBuilder.
type ContextBuilder interface {
	Build(userID string) string
}

// Generator produces a completion for an assembled prompt.
// Implemented by gemini.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// InboundMessage is one chat message to process.
type InboundMessage struct {
	ConversationID string
	UserID         string
	Text           string
	// IdempotencyKey, when non-empty, lets a duplicate send return the
	// originally produced result without new writes.
	IdempotencyKey string
}

// Result is the pipeline's answer for one inbound message.
type Result struct {
	Response             string           `json:"response"`
	CrisisDetected       bool             `json:"crisisDetected"`
	CrisisLevel          storage.Severity `json:"crisisLevel"`
	RequiresIntervention bool             `json:"requiresIntervention,omitempty"`
}

// Dispatcher routes each inbound message through the crisis or generative
// branch. It holds no per-request state; every call is independent.
type Dispatcher struct {
	rules       RuleStore
	messages    MessageStore
	idempotency IdempotencyStore // optional; nil disables duplicate detection
	matcher     crisis.Matcher
	contextual  ContextBuilder
	generator   Generator
}

// New creates a Dispatcher wired to all pipeline components.
func New(rules RuleStore, messages MessageStore, idempotency IdempotencyStore, matcher crisis.Matcher, contextual ContextBuilder, generator Generator) *Dispatcher {
	return &Dispatcher{
		rules:       rules,
		messages:    messages,
		idempotency: idempotency,
		matcher:     matcher,
		contextual:  contextual,
		generator:   generator,
	}
}

// Handle processes one inbound message to completion. On success exactly two
// messages have been persisted: the user's and the assistant's, sharing the
// conversation id. A rule-fetch, persistence, or generative failure aborts
// the request; nothing is retried.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) (Result, error) {
	if cached, ok := d.lookupDuplicate(msg); ok {
		return cached, nil
	}

	rules, err := d.rules.ListCrisisRules()
	if err != nil {
		return Result{}, fmt.Errorf("loading crisis rules: %w", err)
	}

	rule, matched := d.matcher.Match(msg.Text, rules)

	var result Result
	if matched {
		result, err = d.crisisBranch(msg, rule)
	} else {
		result, err = d.generativeBranch(ctx, msg)
	}
	if err != nil {
		return Result{}, err
	}

	d.recordResult(msg, result)
	return result, nil
}

// crisisBranch persists the exchange tagged with the rule's severity and
// answers with the canned template. The generative service is never
// consulted here: crisis replies must not depend on upstream availability
// or latency.
func (d *Dispatcher) crisisBranch(msg InboundMessage, rule storage.CrisisRule) (Result, error) {
	slog.Info("crisis detected",
		"conversation_id", msg.ConversationID,
		"severity", rule.Severity,
		"requires_intervention", rule.RequiresIntervention,
	)

	userMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           storage.RoleUser,
		Content:        msg.Text,
		Type:           storage.MessageCrisis,
		CrisisLevel:    rule.Severity,
	}
	if err := d.messages.InsertMessage(userMsg); err != nil {
		return Result{}, fmt.Errorf("persisting user message: %w", err)
	}

	assistantMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           storage.RoleAssistant,
		Content:        rule.Response,
		Type:           storage.MessageCrisis,
		CrisisLevel:    rule.Severity,
	}
	if err := d.messages.InsertMessage(assistantMsg); err != nil {
		return Result{}, fmt.Errorf("persisting assistant message: %w", err)
	}

	return Result{
		Response:             rule.Response,
		CrisisDetected:       true,
		CrisisLevel:          rule.Severity,
		RequiresIntervention: rule.RequiresIntervention,
	}, nil
}

// generativeBranch assembles the user context, calls the generative service,
// and persists the exchange as plain text messages.
func (d *Dispatcher) generativeBranch(ctx context.Context, msg InboundMessage) (Result, error) {
	prompt := d.contextual.Build(msg.UserID) + "\n\n" + msg.Text

	reply, err := d.generator.Generate(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("generating reply: %w", err)
	}

	userMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           storage.RoleUser,
		Content:        msg.Text,
		Type:           storage.MessageText,
	}
	if err := d.messages.InsertMessage(userMsg); err != nil {
		return Result{}, fmt.Errorf("persisting user message: %w", err)
	}

	assistantMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           storage.RoleAssistant,
		Content:        reply,
		Type:           storage.MessageText,
	}
	if err := d.messages.InsertMessage(assistantMsg); err != nil {
		return Result{}, fmt.Errorf("persisting assistant message: %w", err)
	}

	return Result{Response: reply, CrisisDetected: false, CrisisLevel: 0}, nil
}

// lookupDuplicate returns the previously produced result for this message
// key, if any. Lookup failures other than a miss are logged and treated as
// a miss — idempotency is a guard, not a gate.
func (d *Dispatcher) lookupDuplicate(msg InboundMessage) (Result, bool) {
	if d.idempotency == nil || msg.IdempotencyKey == "" {
		return Result{}, false
	}
	cached, err := d.idempotency.GetIdempotentResult(msg.UserID, msg.ConversationID, msg.IdempotencyKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, false
	}
	if err != nil {
		slog.Warn("idempotency lookup failed", "error", err)
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal([]byte(cached), &result); err != nil {
		slog.Warn("malformed idempotency entry, reprocessing", "error", err)
		return Result{}, false
	}
	return result, true
}

func (d *Dispatcher) recordResult(msg InboundMessage, result Result) {
	if d.idempotency == nil || msg.IdempotencyKey == "" {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Warn("marshalling idempotency entry failed", "error", err)
		return
	}
	if err := d.idempotency.SaveIdempotentResult(msg.UserID, msg.ConversationID, msg.IdempotencyKey, string(payload), idempotencyTTL); err != nil {
		slog.Warn("saving idempotency entry failed", "error", err)
	}
}
