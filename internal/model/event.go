package model

import "time"

// EventSender identifies the end user behind an inbound event.
type EventSender struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// EventContent is the normalized payload of an inbound event. Audio and image
// messages arrive pre-transcribed/described; SourceURL points at the original.
type EventContent struct {
	Text      string      `json:"text"`
	Type      ContentType `json:"originalType"`
	SourceURL string      `json:"originalContentUrl,omitempty"`
}

// EventMetadata carries platform-side identifiers of the event.
type EventMetadata struct {
	ExternalID string      `json:"externalId"`
	ParentID   string      `json:"parentId,omitempty"`
	PostID     string      `json:"postId,omitempty"`
	Sender     EventSender `json:"sender"`
}

// InboundEvent is one normalized social-messaging event as delivered by the
// webhook layer. Channel-specific payload parsing happens upstream.
type InboundEvent struct {
	AccountID string        `json:"accountId"`
	MessageID string        `json:"messageId"`
	EventType EventType     `json:"eventType"`
	TargetID  string        `json:"targetId"`
	Content   EventContent  `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Platform  Platform      `json:"platform"`
	Channel   Channel       `json:"channel"`
	Metadata  EventMetadata `json:"metadata"`
}
