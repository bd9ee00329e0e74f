package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is one configured collaborator of a workflow. Config is the raw
// kind-indexed configuration; it is decoded exactly once when the workflow's
// action set is resolved, never per access.
type Action struct {
	ID         string          `json:"actionId"`
	WorkflowID string          `json:"workflowId"`
	Kind       ActionKind      `json:"actionType"`
	UseCase    string          `json:"useCase,omitempty"`
	IsActive   bool            `json:"isActive"`
	Config     json.RawMessage `json:"configuration"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ReplyConfig configures the reply collaborator.
type ReplyConfig struct {
	// Replies carry no standalone configuration today; generation rules come
	// from the workflow configuration.
}

// AlertConfig configures human alerting.
type AlertConfig struct {
	AlertTarget  string       `json:"alertTarget"`
	AlertChannel AlertChannel `json:"alertChannel"`
}

// CaptureConfig configures field extraction stages.
type CaptureConfig struct {
	ConfirmationRequiredFields []RequiredField `json:"confirmationRequiredFields,omitempty"`
	CaptureRequiredFields      []RequiredField `json:"captureRequiredFields,omitempty"`
	ConfirmationContext        string          `json:"confirmationContext,omitempty"`
}

// CallTemplate is a rendered HTTP request body template for external calls.
// Body placeholders use {{name}} syntax; VariablesMapping maps captured field
// keys to placeholder names.
type CallTemplate struct {
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body"`
	VariablesMapping map[string]string `json:"variablesMapping,omitempty"`
}

// VerifyConfig configures the external verification stage.
type VerifyConfig struct {
	TargetURL      string       `json:"targetUrl"`
	ExpectedStatus int          `json:"expectedStatusCode"`
	Template       CallTemplate `json:"template"`
	BookingLink    string       `json:"bookingLink,omitempty"`
}

// FieldMapping renames one captured field for external submission.
// Unmapped fields pass through under their own key.
type FieldMapping struct {
	SourceKey string `json:"sourceKey"`
	TargetKey string `json:"targetKey"`
}

// ExecuteConfig configures the terminal submission stage.
type ExecuteConfig struct {
	URL                   string         `json:"url"`
	AuthToken             string         `json:"authToken,omitempty"`
	FieldMappings         []FieldMapping `json:"fieldMappings,omitempty"`
	SummaryField          string         `json:"summaryField"`
	UniqueIdentifierField string         `json:"uniqueIdentifierField,omitempty"`
	UniqueIdentifier      string         `json:"uniqueIdentifier,omitempty"`
}

// ActionSet is the decoded, validated action configuration of one workflow
// run. Entries are nil when the workflow does not configure that kind.
type ActionSet struct {
	Reply   *ReplyConfig
	Alert   *AlertConfig
	Capture *CaptureConfig
	Verify  *VerifyConfig
	Execute *ExecuteConfig

	// Raw actions by kind, kept for audit logging.
	Actions map[ActionKind]Action
}

// ResolveActionSet decodes the active actions of a workflow and verifies that
// every required kind is present. Decoding happens here, once.
func ResolveActionSet(actions []Action, required []ActionKind) (*ActionSet, error) {
	set := &ActionSet{Actions: make(map[ActionKind]Action)}
	for _, a := range actions {
		if !a.IsActive {
			continue
		}
		if _, dup := set.Actions[a.Kind]; dup {
			return nil, fmt.Errorf("duplicate action of kind %s", a.Kind)
		}
		set.Actions[a.Kind] = a

		switch a.Kind {
		case ActionReply:
			set.Reply = &ReplyConfig{}
		case ActionAlert:
			cfg := &AlertConfig{}
			if err := json.Unmarshal(a.Config, cfg); err != nil {
				return nil, fmt.Errorf("decode alert config %s: %w", a.ID, err)
			}
			if cfg.AlertTarget == "" {
				return nil, fmt.Errorf("alert action %s has no target", a.ID)
			}
			set.Alert = cfg
		case ActionCaptureData:
			cfg := &CaptureConfig{}
			if err := json.Unmarshal(a.Config, cfg); err != nil {
				return nil, fmt.Errorf("decode capture config %s: %w", a.ID, err)
			}
			set.Capture = cfg
		case ActionVerifyExternal:
			cfg := &VerifyConfig{}
			if err := json.Unmarshal(a.Config, cfg); err != nil {
				return nil, fmt.Errorf("decode verify config %s: %w", a.ID, err)
			}
			if cfg.TargetURL == "" {
				return nil, fmt.Errorf("verify action %s has no target url", a.ID)
			}
			set.Verify = cfg
		case ActionExecuteExternal:
			cfg := &ExecuteConfig{}
			if err := json.Unmarshal(a.Config, cfg); err != nil {
				return nil, fmt.Errorf("decode execute config %s: %w", a.ID, err)
			}
			if cfg.URL == "" {
				return nil, fmt.Errorf("execute action %s has no url", a.ID)
			}
			set.Execute = cfg
		case ActionEscalate:
			// Escalation reuses alert + reply configuration.
		default:
			return nil, fmt.Errorf("unknown action kind %q", a.Kind)
		}
	}

	for _, kind := range required {
		if _, ok := set.Actions[kind]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMissingAction, kind)
		}
	}
	return set, nil
}

// Has reports whether an active action of the given kind was configured.
func (s *ActionSet) Has(kind ActionKind) bool {
	_, ok := s.Actions[kind]
	return ok
}
