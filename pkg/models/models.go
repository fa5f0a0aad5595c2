package models

import "time"

// PlatformInstagram is the only platform checks run against
const PlatformInstagram = "instagram"

// CheckStatus is the lifecycle state of a check
type CheckStatus string

const (
	CheckQueued     CheckStatus = "QUEUED"
	CheckProcessing CheckStatus = "PROCESSING"
	CheckCompleted  CheckStatus = "COMPLETED"
	CheckFailed     CheckStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible
func (s CheckStatus) Terminal() bool {
	return s == CheckCompleted || s == CheckFailed
}

// EntryStatus is the state of a queue entry
type EntryStatus string

const (
	EntryQueued     EntryStatus = "QUEUED"
	EntryProcessing EntryStatus = "PROCESSING"
	EntryDone       EntryStatus = "DONE"
	EntryFailed     EntryStatus = "FAILED"
)

// Identity is one account as returned by a relation page
type Identity struct {
	ExternalID  string `json:"external_id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
	IsVerified  bool   `json:"is_verified,omitempty"`
}

// Counts are the relation totals of a check
type Counts struct {
	Following int `json:"following"`
	Followers int `json:"followers"`
	NonMutual int `json:"non_mutual"`
}

// Check is one request to compute the non-mutual set of a target
type Check struct {
	ID              string      `json:"id"`
	Platform        string      `json:"platform"`
	Target          string      `json:"target"`
	TargetID        string      `json:"target_id,omitempty"`
	Status          CheckStatus `json:"status"`
	Progress        int         `json:"progress"`
	Counts          Counts      `json:"counts"`
	ErrorReason     string      `json:"error_reason,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CacheUsed       bool        `json:"cache_used"`
	SourceCheckID   string      `json:"source_check_id,omitempty"`
	CancelRequested bool        `json:"cancel_requested"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// QueueEntry binds an unterminated check to its place in the queue
type QueueEntry struct {
	CheckID    string      `json:"check_id"`
	Seq        int64       `json:"seq"`
	Position   int         `json:"position"`
	Status     EntryStatus `json:"status"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
}

// NonMutualResult is one account the target follows that does not follow back
type NonMutualResult struct {
	CheckID string `json:"check_id"`
	Ordinal int    `json:"ordinal"`
	Identity
}

// SessionState is the lifecycle state of the platform session
type SessionState string

const (
	SessionActive   SessionState = "ACTIVE"
	SessionDegraded SessionState = "DEGRADED"
	SessionInvalid  SessionState = "INVALID"
)

// Session is the single authenticated platform session
type Session struct {
	Token               string       `json:"token"`
	CSRFToken           string       `json:"csrf_token,omitempty"`
	UserID              string       `json:"user_id,omitempty"`
	Valid               bool         `json:"valid"`
	State               SessionState `json:"state"`
	CreatedAt           time.Time    `json:"created_at"`
	LastUsedAt          time.Time    `json:"last_used_at"`
	NextRefreshAt       time.Time    `json:"next_refresh_at"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	RefreshAttempts     int          `json:"refresh_attempts"`
	LastError           string       `json:"last_error,omitempty"`
}
