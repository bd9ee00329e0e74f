package model

import (
	"encoding/json"
	"time"
)

// Client is one tenant of the system.
type Client struct {
	ID                 string    `json:"clientId"`
	BusinessName       string    `json:"businessName"`
	Industry           string    `json:"industry,omitempty"`
	BusinessLocation   string    `json:"businessLocation,omitempty"`
	BusinessDesc       string    `json:"businessDescription,omitempty"`
	BusinessHours      string    `json:"businessHours,omitempty"`
	ContactOptions     string    `json:"contactOptions,omitempty"`
	DynamicInformation string    `json:"dynamicInformation,omitempty"`
	IsActive           bool      `json:"isActive"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`

	Credentials []Credential `json:"credentials,omitempty"`
	Workflows   []Workflow   `json:"workflows,omitempty"`
	Events      []BizEvent   `json:"events,omitempty"`
}

// HasActiveWorkflows reports whether any workflow of the client is active.
func (c *Client) HasActiveWorkflows() bool {
	for _, w := range c.Workflows {
		if w.IsActive {
			return true
		}
	}
	return false
}

// BizEvent is a client business event used as generation context
// (promotions, recurring openings, etc).
type BizEvent struct {
	ID          string     `json:"eventId"`
	ClientID    string     `json:"clientId"`
	Name        string     `json:"eventName"`
	Description string     `json:"description,omitempty"`
	Recurrence  string     `json:"recurrence,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
}

// Credential is a stored platform credential for one client.
type Credential struct {
	ID        string         `json:"credentialId"`
	ClientID  string         `json:"clientId"`
	Type      CredentialType `json:"type"`
	Value     string         `json:"-"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Expired reports whether the credential carries an elapsed expiry.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// FindCredential returns the first credential of the wanted type, or nil.
func FindCredential(creds []Credential, want CredentialType) *Credential {
	for i := range creds {
		if creds[i].Type == want {
			return &creds[i]
		}
	}
	return nil
}

// PlatformBinding links a platform account id to a client, with optional
// confirmation gating for new conversations.
type PlatformBinding struct {
	ID                   string   `json:"bindingId"`
	ClientID             string   `json:"clientId"`
	Platform             Platform `json:"platform"`
	AccountID            string   `json:"accountId"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	ConfirmationQuestion string   `json:"confirmationQuestion,omitempty"`

	Credentials []Credential `json:"credentials,omitempty"`
}

// Conversation is one interaction thread with one end user.
// At most one non-terminal session is bound via ActiveSessionID.
type Conversation struct {
	ID              string     `json:"conversationId"`
	ClientID        string     `json:"clientId"`
	AccountID       string     `json:"accountId"`
	Platform        Platform   `json:"platform"`
	Channel         Channel    `json:"channel"`
	ActiveSessionID string     `json:"activeSessionId,omitempty"`
	SenderID        string     `json:"senderId"`
	SenderUsername  string     `json:"senderUsername,omitempty"`
	PostID          string     `json:"postId,omitempty"`
	ParentID        string     `json:"parentId,omitempty"`
	IsConfirmed     *bool      `json:"isConfirmed,omitempty"`
	PausedUntil     *time.Time `json:"pausedUntil,omitempty"`
	LastMessageAt   time.Time  `json:"lastMessageAt"`
	CreatedAt       time.Time  `json:"createdAt"`

	Messages []Message `json:"messages,omitempty"`
	Session  *Session  `json:"session,omitempty"`
}

// HasSession reports whether a session is currently bound.
func (c *Conversation) HasSession() bool { return c.ActiveSessionID != "" }

// Message is one stored conversation message. ExternalID is the platform's
// message/comment id and doubles as the ingestion idempotency key.
type Message struct {
	ID          string      `json:"messageId"`
	ConvID      string      `json:"conversationId"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	SourceURL   string      `json:"sourceUrl,omitempty"`
	ExternalID  string      `json:"externalId"`
	SentBy      Actor       `json:"sentBy"`
	IsDeleted   bool        `json:"isDeleted,omitempty"`
	SessionID   string      `json:"sessionId,omitempty"`
	ReceivedAt  time.Time   `json:"receivedAt"`
}

// Workflow is a named policy + state machine that owns how a conversation's
// turns are handled once selected ("agent" on the wire).
type Workflow struct {
	ID            string         `json:"workflowId"`
	ClientID      string         `json:"clientId"`
	Key           string         `json:"workflowKey"`
	Name          string         `json:"name"`
	UseCase       string         `json:"useCase,omitempty"`
	IsActive      bool           `json:"isActive"`
	Configuration WorkflowConfig `json:"configuration"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	Variants []WorkflowVariant `json:"variants,omitempty"`
	Policies []WorkflowPolicy  `json:"policies,omitempty"`
}

// Well-known workflow keys.
const (
	WorkflowConcierge     = "CONCIERGE"
	WorkflowIntake        = "INTAKE"
	WorkflowBooking       = "BOOKING"
	WorkflowConfirmAssist = "CONFIRM_ASSISTANT"
)

// WorkflowConfig carries the generation-facing configuration of a workflow.
type WorkflowConfig struct {
	ModelTier  int        `json:"modelTier,omitempty"`
	ReplyRules ReplyRules `json:"replyRules"`
	Examples   []Example  `json:"examples,omitempty"`
}

// ReplyRules constrain generated replies.
type ReplyRules struct {
	Tone           string   `json:"tone,omitempty"`
	Language       string   `json:"language,omitempty"`
	MaxLength      int      `json:"maxLength,omitempty"`
	ForbiddenTerms []string `json:"forbiddenTerms,omitempty"`
	Instructions   string   `json:"instructions,omitempty"`
}

// Example is a labelled sample used to steer reply generation.
type Example struct {
	Message   string `json:"message"`
	IsCorrect bool   `json:"isCorrect"`
	Reasoning string `json:"reasoning,omitempty"`
}

// WorkflowVariant overrides a workflow's configuration for a specific
// platform and/or channel. Nil platform/channel means "any".
type WorkflowVariant struct {
	ID         string          `json:"variantId"`
	WorkflowID string          `json:"workflowId"`
	Platform   *Platform       `json:"platform,omitempty"`
	Channel    *Channel        `json:"channel,omitempty"`
	Override   json.RawMessage `json:"overrideConfiguration"`
	IsActive   bool            `json:"isActive"`
}

// WorkflowPolicy is a platform/channel-scoped allow/deny rule.
// Nil platform or channel matches any value on that axis.
type WorkflowPolicy struct {
	ID         string    `json:"policyId"`
	WorkflowID string    `json:"workflowId"`
	Platform   *Platform `json:"platform,omitempty"`
	Channel    *Channel  `json:"channel,omitempty"`
	IsAllowed  bool      `json:"isAllowed"`
}

// PolicyAllows resolves the policy list for a platform/channel pair.
// Precedence, most specific first: exact match, platform-only, channel-only.
// An empty policy list allows everything.
func PolicyAllows(policies []WorkflowPolicy, platform Platform, channel Channel) bool {
	if len(policies) == 0 {
		return true
	}
	for _, p := range policies {
		if p.Platform != nil && *p.Platform == platform && p.Channel != nil && *p.Channel == channel {
			return p.IsAllowed
		}
	}
	for _, p := range policies {
		if p.Platform != nil && *p.Platform == platform && p.Channel == nil {
			return p.IsAllowed
		}
	}
	for _, p := range policies {
		if p.Platform == nil && p.Channel != nil && *p.Channel == channel {
			return p.IsAllowed
		}
	}
	return true
}

// Session is the persisted instance of a workflow's progress for one
// conversation. Version supports optimistic concurrency on updates.
type Session struct {
	ID          string          `json:"sessionId"`
	WorkflowID  string          `json:"workflowId"`
	WorkflowKey string          `json:"workflowKey"`
	ConvID      string          `json:"conversationId"`
	Status      SessionStatus   `json:"status"`
	Stage       string          `json:"stage"`
	State       SessionState    `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	Version     int64           `json:"version"`
	StartedAt   time.Time       `json:"startedAt"`
	EndedAt     *time.Time      `json:"endedAt,omitempty"`
}

// SessionState is the workflow-owned structured blob of a session.
type SessionState struct {
	ConfirmedFields []RetrievedField `json:"confirmedFields,omitempty"`
	CapturedFields  []RetrievedField `json:"capturedFields,omitempty"`
	FailureResponse string           `json:"failureResponse,omitempty"`
}

// DecisionRecord is the audit trail of a router model decision.
type DecisionRecord struct {
	ID         string    `json:"decisionId"`
	WorkflowID string    `json:"workflowId"`
	ConvID     string    `json:"conversationId"`
	MessageID  string    `json:"messageId"`
	Score      float64   `json:"score"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
