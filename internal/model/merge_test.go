package model

import (
	"encoding/json"
	"testing"
)

func TestMergeWorkflowConfig(t *testing.T) {
	base := WorkflowConfig{
		ModelTier: 1,
		ReplyRules: ReplyRules{
			Tone:           "friendly",
			Language:       "match the customer",
			MaxLength:      300,
			ForbiddenTerms: []string{"guarantee"},
		},
		Examples: []Example{{Message: "hi", IsCorrect: true}},
	}

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, got WorkflowConfig)
	}{
		{
			name: "empty override keeps base",
			raw:  "",
			check: func(t *testing.T, got WorkflowConfig) {
				if got.ModelTier != 1 || got.ReplyRules.Tone != "friendly" {
					t.Errorf("base mutated: %+v", got)
				}
			},
		},
		{
			name: "scalar overwrites, absent fields survive",
			raw:  `{"modelTier": 3, "replyRules": {"tone": "formal"}}`,
			check: func(t *testing.T, got WorkflowConfig) {
				if got.ModelTier != 3 {
					t.Errorf("ModelTier = %d, want 3", got.ModelTier)
				}
				if got.ReplyRules.Tone != "formal" {
					t.Errorf("Tone = %q, want formal", got.ReplyRules.Tone)
				}
				if got.ReplyRules.MaxLength != 300 {
					t.Errorf("MaxLength = %d, want base value 300", got.ReplyRules.MaxLength)
				}
			},
		},
		{
			name: "arrays replace wholesale",
			raw:  `{"replyRules": {"forbiddenTerms": ["cheap", "free"]}}`,
			check: func(t *testing.T, got WorkflowConfig) {
				if len(got.ReplyRules.ForbiddenTerms) != 2 || got.ReplyRules.ForbiddenTerms[0] != "cheap" {
					t.Errorf("ForbiddenTerms = %v, want replacement", got.ReplyRules.ForbiddenTerms)
				}
			},
		},
		{
			name: "zero-valued override still overwrites",
			raw:  `{"replyRules": {"maxLength": 0}}`,
			check: func(t *testing.T, got WorkflowConfig) {
				if got.ReplyRules.MaxLength != 0 {
					t.Errorf("MaxLength = %d, want explicit 0", got.ReplyRules.MaxLength)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeWorkflowConfig(base, json.RawMessage(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, got)
		})
	}
}

func TestMergeWorkflowConfigRejectsGarbage(t *testing.T) {
	if _, err := MergeWorkflowConfig(WorkflowConfig{}, json.RawMessage(`{not json`)); err == nil {
		t.Error("malformed override accepted")
	}
}

func TestEffectiveConfigVariantPrecedence(t *testing.T) {
	w := &Workflow{
		Configuration: WorkflowConfig{ModelTier: 1},
		Variants: []WorkflowVariant{
			{Platform: platformPtr(PlatformInstagram), Override: json.RawMessage(`{"modelTier": 2}`), IsActive: true},
			{Platform: platformPtr(PlatformInstagram), Channel: channelPtr(ChannelComment), Override: json.RawMessage(`{"modelTier": 3}`), IsActive: true},
			{Channel: channelPtr(ChannelComment), Override: json.RawMessage(`{"modelTier": 4}`), IsActive: true},
		},
	}

	tests := []struct {
		name     string
		platform Platform
		channel  Channel
		wantTier int
	}{
		{"exact variant wins", PlatformInstagram, ChannelComment, 3},
		{"platform-only variant", PlatformInstagram, ChannelDirectMessage, 2},
		{"channel-only variant", PlatformFacebook, ChannelComment, 4},
		{"no variant keeps base", PlatformTelegram, ChannelDirectMessage, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.EffectiveConfig(tt.platform, tt.channel)
			if err != nil {
				t.Fatal(err)
			}
			if got.ModelTier != tt.wantTier {
				t.Errorf("ModelTier = %d, want %d", got.ModelTier, tt.wantTier)
			}
		})
	}
}

func TestEffectiveConfigSkipsInactiveVariant(t *testing.T) {
	w := &Workflow{
		Configuration: WorkflowConfig{ModelTier: 1},
		Variants: []WorkflowVariant{
			{Platform: platformPtr(PlatformInstagram), Override: json.RawMessage(`{"modelTier": 2}`), IsActive: false},
		},
	}
	got, err := w.EffectiveConfig(PlatformInstagram, ChannelDirectMessage)
	if err != nil {
		t.Fatal(err)
	}
	if got.ModelTier != 1 {
		t.Errorf("inactive variant applied, ModelTier = %d", got.ModelTier)
	}
}
