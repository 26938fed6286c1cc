package model

type MediaType string

const (
	MediaPhotos MediaType = "photos"
	MediaVideos MediaType = "videos"
	MediaAudio  MediaType = "audio"
)

// MediaTypes lists every quota-tracked media type in reset order.
var MediaTypes = []MediaType{MediaPhotos, MediaVideos, MediaAudio}

func (m MediaType) Valid() bool {
	switch m {
	case MediaPhotos, MediaVideos, MediaAudio:
		return true
	}
	return false
}

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// SystemActor attributes audit entries written by scheduled jobs and triggers.
const SystemActor = "SYSTEM"

type QuotaState struct {
	Count int64  `json:"count"`
	Date  string `json:"date,omitempty"`
	Max   int64  `json:"max"`
}

type Security struct {
	Warnings int  `json:"warnings"`
	IsFrozen bool `json:"is_frozen"`
}

type LocationInfo struct {
	IP            string `json:"ip"`
	City          string `json:"city"`
	Country       string `json:"country"`
	Device        string `json:"device"`
	Browser       string `json:"browser"`
	Coords        Coords `json:"coords"`
	LastLoginTime int64  `json:"lastLoginTime"`
}

type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type LoginEntry struct {
	IP          string `json:"ip"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Device      string `json:"device"`
	Browser     string `json:"browser"`
	Timestamp   int64  `json:"timestamp"`
	RequestedBy string `json:"requested_by"`
}

type Profile struct {
	Email               string                   `json:"email"`
	Name                string                   `json:"name,omitempty"`
	AccountType         Plan                     `json:"account_type"`
	CreatedAt           int64                    `json:"created_at"`
	Status              string                   `json:"status"`
	Limits              map[MediaType]QuotaState `json:"limits,omitempty"`
	Security            Security                 `json:"security"`
	LocationInfo        *LocationInfo            `json:"location_info,omitempty"`
	DeletionWarningSent int64                    `json:"deletion_warning_sent,omitempty"`
}

// IndexEntry is the denormalized replica of a profile kept at AccountIndex/{uid}.
type IndexEntry struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	AccountType Plan   `json:"account_type"`
	SyncedAt    int64  `json:"_synced_at"`
}

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandSuccess   CommandStatus = "success"
	CommandFailed    CommandStatus = "failed"
)

type CommandRecord struct {
	Type        string         `json:"type"`
	CommandType string         `json:"commandType"`
	Status      CommandStatus  `json:"status"`
	Timestamp   int64          `json:"timestamp"`
	RequestedBy string         `json:"requested_by"`
	Details     map[string]any `json:"details,omitempty"`
}

// CommandEntry is a history record with its key.
type CommandEntry struct {
	ID string `json:"id"`
	CommandRecord
}

type AuditEntry struct {
	ID        string `json:"id,omitempty"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Timestamp int64  `json:"timestamp"`
	Metadata  string `json:"metadata"`
	Hash      string `json:"hash"`
}

type VaultKind string

const (
	VaultBanking VaultKind = "Banking_Logs"
	VaultSocial  VaultKind = "Social_Logs"
	VaultDanger  VaultKind = "Danger_Logs"
)

type VaultEntry struct {
	Text       string `json:"text"`
	Sender     string `json:"sender,omitempty"`
	DetectedAt int64  `json:"detected_at"`
	Type       string `json:"type"`
	Priority   string `json:"priority,omitempty"`
	Source     string `json:"source"`
}

type NotificationType string

const (
	NotifyCritical NotificationType = "CRITICAL"
	NotifyWarning  NotificationType = "WARNING"
	NotifyInfo     NotificationType = "INFO"
)

type Notification struct {
	ID        string           `json:"id,omitempty"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Timestamp int64            `json:"timestamp"`
	Data      map[string]any   `json:"data,omitempty"`
	Read      bool             `json:"read"`
}

type DeviceStatus struct {
	Battery  float64 `json:"battery"`
	Charging bool    `json:"charging,omitempty"`
	Network  string  `json:"network,omitempty"`
	LastSeen int64   `json:"last_seen,omitempty"`
}

// DeadLetter records a secondary write that never landed.
type DeadLetter struct {
	Path      string         `json:"path"`
	Value     map[string]any `json:"value"`
	Error     string         `json:"error"`
	Attempts  int            `json:"attempts"`
	CreatedAt int64          `json:"created_at"`
}

type Identity struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

// PairingRequest tracks a device agent waiting for an account to claim it.
type PairingRequest struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
	Status    string `json:"status"`
	AccountID string `json:"account_id,omitempty"`
	DeviceKey string `json:"device_key,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

const (
	PairingPending  = "pending"
	PairingApproved = "approved"
)
