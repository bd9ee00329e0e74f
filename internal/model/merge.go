package model

import (
	"encoding/json"
	"fmt"
)

// WorkflowConfigOverride is a partial WorkflowConfig as stored on a variant.
// Pointer fields distinguish "absent" from zero values.
type WorkflowConfigOverride struct {
	ModelTier  *int                `json:"modelTier,omitempty"`
	ReplyRules *ReplyRulesOverride `json:"replyRules,omitempty"`
	Examples   []Example           `json:"examples,omitempty"`
}

// ReplyRulesOverride is a partial ReplyRules.
type ReplyRulesOverride struct {
	Tone           *string  `json:"tone,omitempty"`
	Language       *string  `json:"language,omitempty"`
	MaxLength      *int     `json:"maxLength,omitempty"`
	ForbiddenTerms []string `json:"forbiddenTerms,omitempty"`
	Instructions   *string  `json:"instructions,omitempty"`
}

// MergeWorkflowConfig applies an override onto a base configuration.
// Rules: scalars overwrite when present, arrays replace wholesale, nested
// objects merge recursively.
func MergeWorkflowConfig(base WorkflowConfig, raw json.RawMessage) (WorkflowConfig, error) {
	if len(raw) == 0 {
		return base, nil
	}
	var ov WorkflowConfigOverride
	if err := json.Unmarshal(raw, &ov); err != nil {
		return base, fmt.Errorf("decode config override: %w", err)
	}

	merged := base
	if ov.ModelTier != nil {
		merged.ModelTier = *ov.ModelTier
	}
	if ov.Examples != nil {
		merged.Examples = ov.Examples
	}
	if ov.ReplyRules != nil {
		rr := &merged.ReplyRules
		if ov.ReplyRules.Tone != nil {
			rr.Tone = *ov.ReplyRules.Tone
		}
		if ov.ReplyRules.Language != nil {
			rr.Language = *ov.ReplyRules.Language
		}
		if ov.ReplyRules.MaxLength != nil {
			rr.MaxLength = *ov.ReplyRules.MaxLength
		}
		if ov.ReplyRules.ForbiddenTerms != nil {
			rr.ForbiddenTerms = ov.ReplyRules.ForbiddenTerms
		}
		if ov.ReplyRules.Instructions != nil {
			rr.Instructions = *ov.ReplyRules.Instructions
		}
	}
	return merged, nil
}

// EffectiveConfig resolves the workflow configuration for a platform/channel
// pair by applying the most specific active variant, if any. Variant
// precedence mirrors policy resolution: exact match, platform-only,
// channel-only.
func (w *Workflow) EffectiveConfig(platform Platform, channel Channel) (WorkflowConfig, error) {
	variant := pickVariant(w.Variants, platform, channel)
	if variant == nil {
		return w.Configuration, nil
	}
	return MergeWorkflowConfig(w.Configuration, variant.Override)
}

func pickVariant(variants []WorkflowVariant, platform Platform, channel Channel) *WorkflowVariant {
	var platformOnly, channelOnly *WorkflowVariant
	for i := range variants {
		v := &variants[i]
		if !v.IsActive {
			continue
		}
		switch {
		case v.Platform != nil && *v.Platform == platform && v.Channel != nil && *v.Channel == channel:
			return v
		case v.Platform != nil && *v.Platform == platform && v.Channel == nil && platformOnly == nil:
			platformOnly = v
		case v.Platform == nil && v.Channel != nil && *v.Channel == channel && channelOnly == nil:
			channelOnly = v
		}
	}
	if platformOnly != nil {
		return platformOnly
	}
	return channelOnly
}
