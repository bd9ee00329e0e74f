package model

// Platform identifies the social-messaging platform an event originated from.
type Platform string

const (
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformFacebook  Platform = "FACEBOOK"
	PlatformWhatsapp  Platform = "WHATSAPP"
	PlatformTelegram  Platform = "TELEGRAM"
)

// Channel is the surface within a platform a message arrived on.
type Channel string

const (
	ChannelDirectMessage Channel = "DIRECT_MESSAGE"
	ChannelComment       Channel = "COMMENT"
)

// EventType mirrors the lifecycle notifications platforms deliver.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// SessionStatus is the lifecycle state of a workflow session.
// Transitions are monotonic: STARTED→PROCESSING→{COMPLETED|FAILED};
// FAILED or COMPLETED may move to REALERTED on re-contact. Never back to STARTED.
type SessionStatus string

const (
	SessionStarted    SessionStatus = "STARTED"
	SessionProcessing SessionStatus = "PROCESSING"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
	SessionRealerted  SessionStatus = "REALERTED"
)

// Terminal reports whether no further capture work happens in this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionRealerted
}

// ActionKind tags entries of the per-workflow action configuration union.
type ActionKind string

const (
	ActionReply           ActionKind = "REPLY"
	ActionAlert           ActionKind = "ALERT"
	ActionCaptureData     ActionKind = "CAPTURE_DATA"
	ActionVerifyExternal  ActionKind = "VERIFY_EXTERNAL"
	ActionExecuteExternal ActionKind = "EXECUTE_EXTERNAL"
	ActionEscalate        ActionKind = "ESCALATE"
)

// CredentialType names the credential a platform+channel combination requires.
type CredentialType string

const (
	CredentialAppAccessToken  CredentialType = "APP_ACCESS_TOKEN"
	CredentialPageAccessToken CredentialType = "PAGE_ACCESS_TOKEN"
	CredentialWabaToken       CredentialType = "WABA_TOKEN"
	CredentialBotToken        CredentialType = "BOT_TOKEN"
)

// RequiredCredential resolves which credential type is needed to act on the
// given platform and channel. Comments always go through page tokens.
func RequiredCredential(platform Platform, channel Channel) CredentialType {
	if channel == ChannelComment {
		return CredentialPageAccessToken
	}
	switch platform {
	case PlatformInstagram:
		return CredentialAppAccessToken
	case PlatformFacebook:
		return CredentialPageAccessToken
	case PlatformWhatsapp:
		return CredentialWabaToken
	case PlatformTelegram:
		return CredentialBotToken
	}
	return CredentialPageAccessToken
}

// Actor marks who authored a conversation message.
type Actor string

const (
	ActorUser  Actor = "USER"
	ActorAgent Actor = "AGENT"
)

// AlertChannel selects the delivery shape for human alerts.
type AlertChannel string

const (
	AlertEmail    AlertChannel = "EMAIL"
	AlertSlack    AlertChannel = "SLACK"
	AlertWhatsapp AlertChannel = "WHATSAPP"
	AlertTelegram AlertChannel = "TELEGRAM"
	AlertDiscord  AlertChannel = "DISCORD"
)

// ContentType is the original media type of an inbound message.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentAudio ContentType = "audio"
	ContentImage ContentType = "image"
)
