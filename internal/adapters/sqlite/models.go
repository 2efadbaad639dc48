package sqlite

import "time"

type keyModel struct {
	KeyNumber    int       `gorm:"column:key_number;primaryKey;autoIncrement:false"`
	Status       string    `gorm:"column:status;not null"`
	AssignedUser *string   `gorm:"column:assigned_user"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (keyModel) TableName() string {
	return "keys"
}

type ongoingEventModel struct {
	KeyNumber int       `gorm:"column:key_number;primaryKey;autoIncrement:false"`
	UserID    *string   `gorm:"column:user_id"`
	UserName  string    `gorm:"column:user_name;not null"`
	UserPhoto *string   `gorm:"column:user_photo"`
	TimeTaken time.Time `gorm:"column:time_taken;not null"`
}

func (ongoingEventModel) TableName() string {
	return "ongoing_events"
}

type eventLogModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	KeyNumber   int       `gorm:"column:key_number;not null"`
	UserName    string    `gorm:"column:user_name;not null"`
	UserID      *string   `gorm:"column:user_id"`
	Action      string    `gorm:"column:action;not null"`
	Timestamp   time.Time `gorm:"column:timestamp;not null"`
	SnapshotURL *string   `gorm:"column:snapshot_url"`
}

func (eventLogModel) TableName() string {
	return "event_log"
}

type webhookHistoryModel struct {
	WebhookID  string    `gorm:"column:webhook_id;primaryKey"`
	ReceivedAt time.Time `gorm:"column:received_at;not null"`
}

func (webhookHistoryModel) TableName() string {
	return "webhook_history"
}

type accessTokenModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Token     string    `gorm:"column:token;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (accessTokenModel) TableName() string {
	return "access_tokens"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

type apiKeyModel struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}
