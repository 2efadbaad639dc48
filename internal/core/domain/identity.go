package domain

import (
	"encoding/base64"
	"time"
)

const UnknownUserName = "Unknown User"

type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credential) ValidAt(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// BadgeEvent is one record of the provider's access event feed, reduced to
// the fields identity resolution looks at.
type BadgeEvent struct {
	Timestamp    time.Time
	EventType    string
	Type         string
	Accepted     bool
	UserID       string
	UserName     string
	ControllerID string
}

// Identity is who the resolver believes caused a transition. UserID is nil
// when nobody could be attributed.
type Identity struct {
	UserID     *string
	Name       string
	ResolvedAt *time.Time
}

func UnknownIdentity() Identity {
	return Identity{Name: UnknownUserName}
}

type Image struct {
	ContentType string
	Data        []byte
}

func (i Image) DataURL() string {
	contentType := i.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
