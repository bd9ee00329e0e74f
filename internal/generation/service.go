package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/convoflowhq/convoflow/internal/model"
)

// Service wraps a Client with the structured-output calls the engine needs.
// Model tiers let a workflow configuration request a stronger or cheaper
// model without knowing provider model names.
type Service struct {
	client Client
	// tiers maps WorkflowConfig.ModelTier to a provider model name.
	// Tier 0 (unset) uses the provider default.
	tiers map[int]string
}

func NewService(client Client, tiers map[int]string) *Service {
	return &Service{client: client, tiers: tiers}
}

func (s *Service) modelFor(tier int) string {
	if s.tiers == nil {
		return ""
	}
	return s.tiers[tier]
}

// Turn is one prior conversation message fed as context.
type Turn struct {
	Actor model.Actor `json:"actor"`
	Text  string      `json:"text"`
}

// BusinessContext carries tenant facts into prompts.
type BusinessContext struct {
	Name        string
	Industry    string
	Location    string
	Description string
	Hours       string
	Contact     string
	Dynamic     string
	Events      []model.BizEvent
}

// BusinessContextFor builds prompt context from a client record.
func BusinessContextFor(c *model.Client) BusinessContext {
	return BusinessContext{
		Name:        c.BusinessName,
		Industry:    c.Industry,
		Location:    c.BusinessLocation,
		Description: c.BusinessDesc,
		Hours:       c.BusinessHours,
		Contact:     c.ContactOptions,
		Dynamic:     c.DynamicInformation,
		Events:      c.Events,
	}
}

func (b BusinessContext) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Business: %s\n", b.Name)
	if b.Industry != "" {
		fmt.Fprintf(&sb, "Industry: %s\n", b.Industry)
	}
	if b.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", b.Location)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "About: %s\n", b.Description)
	}
	if b.Hours != "" {
		fmt.Fprintf(&sb, "Hours: %s\n", b.Hours)
	}
	if b.Contact != "" {
		fmt.Fprintf(&sb, "Contact options: %s\n", b.Contact)
	}
	if b.Dynamic != "" {
		fmt.Fprintf(&sb, "Current information: %s\n", b.Dynamic)
	}
	now := time.Now()
	for _, e := range b.Events {
		if e.EndDate != nil && e.EndDate.Before(now) {
			continue
		}
		fmt.Fprintf(&sb, "Event: %s. %s\n", e.Name, e.Description)
	}
	return sb.String()
}

func renderHistory(history []Turn) string {
	if len(history) == 0 {
		return "(no prior messages)"
	}
	var sb strings.Builder
	for _, t := range history {
		fmt.Fprintf(&sb, "%s: %s\n", t.Actor, t.Text)
	}
	return sb.String()
}

// completeJSON calls the client in JSON mode and decodes into out.
// Code fences around the object are tolerated.
func (s *Service) completeJSON(ctx context.Context, req Request, out any) error {
	req.JSONOutput = true
	text, err := s.client.Complete(ctx, req)
	if err != nil {
		return err
	}
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// WorkflowCandidate is one routable workflow offered to the decision model.
type WorkflowCandidate struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	UseCase string `json:"useCase"`
}

// WorkflowDecision is the decision model's routing verdict.
type WorkflowDecision struct {
	WorkflowKey string  `json:"workflowKey"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
}

// DecideWorkflow picks one workflow out of several eligible candidates.
func (s *Service) DecideWorkflow(ctx context.Context, business BusinessContext, candidates []WorkflowCandidate, history []Turn, message string) (*WorkflowDecision, error) {
	cand, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	prompt := fmt.Sprintf(`%s
Conversation so far:
%s
New customer message: %q

Candidate workflows:
%s

Pick the single workflow that best handles the new message. Respond with a JSON
object: {"workflowKey": "<key from the candidates>", "score": <0..1 confidence>,
"reason": "<one sentence>"}`,
		business.render(), renderHistory(history), message, cand)

	var out WorkflowDecision
	err = s.completeJSON(ctx, Request{
		System: "You route incoming customer messages to the correct automated workflow.",
		Prompt: prompt,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("workflow decision: %w", err)
	}
	return &out, nil
}

// ActionDecision is the per-turn verdict for conversational workflows.
type ActionDecision struct {
	Action string  `json:"action"` // "reply", "alert" or "escalate"
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// DecideAction chooses how a conversational workflow should handle a turn.
func (s *Service) DecideAction(ctx context.Context, business BusinessContext, history []Turn, message string) (*ActionDecision, error) {
	prompt := fmt.Sprintf(`%s
Conversation so far:
%s
New customer message: %q

Decide how to handle this turn:
- "reply": answer directly using the business information above.
- "alert": the message needs a human follow-up but a reply is still fine.
- "escalate": the customer is upset or asks for a human; stop automated replies.

Respond with JSON: {"action": "reply"|"alert"|"escalate", "score": <0..1>,
"reason": "<one sentence>"}`,
		business.render(), renderHistory(history), message)

	var out ActionDecision
	if err := s.completeJSON(ctx, Request{
		System: "You triage customer messages for an automated assistant.",
		Prompt: prompt,
	}, &out); err != nil {
		return nil, fmt.Errorf("action decision: %w", err)
	}
	return &out, nil
}

// ExtractFields pulls required field values out of the conversation.
// Fields never mentioned must be omitted by the model; confidence scoring
// and regex validation happen in the caller.
func (s *Service) ExtractFields(ctx context.Context, required []model.RequiredField, history []Turn, message string, modelTier int) ([]model.RetrievedField, error) {
	spec, err := json.Marshal(required)
	if err != nil {
		return nil, fmt.Errorf("encode field spec: %w", err)
	}
	prompt := fmt.Sprintf(`Conversation so far:
%s
New customer message: %q

Extract values for these fields from the conversation:
%s

Respond with JSON: {"fields": [{"key": "<field key>", "value": "<value as
string>", "confidence": <0..1>}]}. Omit fields the customer has not provided.
Do not guess.`,
		renderHistory(history), message, spec)

	var out struct {
		Fields []model.RetrievedField `json:"fields"`
	}
	err = s.completeJSON(ctx, Request{
		System: "You extract structured data from customer conversations.",
		Prompt: prompt,
		Model:  s.modelFor(modelTier),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("field extraction: %w", err)
	}
	return out.Fields, nil
}

// ReplyInput drives a generated reply.
type ReplyInput struct {
	Business    BusinessContext
	Config      model.WorkflowConfig
	History     []Turn
	Message     string
	Instruction string // stage-specific directive, e.g. ask for missing fields
}

// Reply drafts the agent's next message.
func (s *Service) Reply(ctx context.Context, in ReplyInput) (string, error) {
	var sb strings.Builder
	sb.WriteString(in.Business.render())
	rules := in.Config.ReplyRules
	if rules.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", rules.Tone)
	}
	if rules.Language != "" {
		fmt.Fprintf(&sb, "Respond in: %s\n", rules.Language)
	}
	if rules.MaxLength > 0 {
		fmt.Fprintf(&sb, "Keep the reply under %d characters.\n", rules.MaxLength)
	}
	if len(rules.ForbiddenTerms) > 0 {
		fmt.Fprintf(&sb, "Never use these terms: %s\n", strings.Join(rules.ForbiddenTerms, ", "))
	}
	for _, ex := range in.Config.Examples {
		verdict := "good"
		if !ex.IsCorrect {
			verdict = "bad"
		}
		fmt.Fprintf(&sb, "Example (%s): %s\n", verdict, ex.Message)
	}
	if in.Instruction != "" {
		fmt.Fprintf(&sb, "Directive for this turn: %s\n", in.Instruction)
	}
	fmt.Fprintf(&sb, "\nConversation so far:\n%s\nNew customer message: %q\n\nWrite the reply text only.",
		renderHistory(in.History), in.Message)

	text, err := s.client.Complete(ctx, Request{
		System: "You are the business's messaging assistant. Reply as the business.",
		Prompt: sb.String(),
		Model:  s.modelFor(in.Config.ModelTier),
	})
	if err != nil {
		return "", fmt.Errorf("reply generation: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ConfirmationVerdict classifies a yes/no confirmation answer.
type ConfirmationVerdict struct {
	Answer     string  `json:"answer"` // "yes", "no" or "unrelated"
	Confidence float64 `json:"confidence"`
}

// ClassifyConfirmation reads the last exchange and decides whether the
// customer answered the confirmation question.
func (s *Service) ClassifyConfirmation(ctx context.Context, question string, lastExchange []Turn) (*ConfirmationVerdict, error) {
	prompt := fmt.Sprintf(`The customer was asked: %q

Last exchange:
%s

Did the customer answer yes, answer no, or say something unrelated to the
question? Respond with JSON: {"answer": "yes"|"no"|"unrelated",
"confidence": <0..1>}`, question, renderHistory(lastExchange))

	var out ConfirmationVerdict
	if err := s.completeJSON(ctx, Request{
		System: "You classify short confirmation answers.",
		Prompt: prompt,
	}, &out); err != nil {
		return nil, fmt.Errorf("confirmation classification: %w", err)
	}
	return &out, nil
}

// Summarize produces a short free-text summary of captured fields for
// inclusion in external submissions and alerts.
func (s *Service) Summarize(ctx context.Context, business BusinessContext, fields map[string]string, history []Turn) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	prompt := fmt.Sprintf(`%s
Conversation so far:
%s
Captured data: %s

Write a two-sentence summary of this customer request for the business's
records. Plain text only.`, business.render(), renderHistory(history), data)

	text, err := s.client.Complete(ctx, Request{
		System: "You summarize customer conversations for business records.",
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("summary generation: %w", err)
	}
	return strings.TrimSpace(text), nil
}
