package model

import "strings"

const (
	AccountRoot      = "account"
	AccountIndexRoot = "AccountIndex"
	VaultRoot        = "Vault"
	AuditRoot        = "system_audit_logs"
	AdminAlertsRoot  = "AdminAlerts"
	DeadLettersRoot  = "DeadLetters"
	AdminsRoot       = "admins"
	AuthUsersRoot    = "auth_users"
	AuthEmailsRoot   = "auth_emails"
	PairingRoot      = "pairing"
	ChatsRoot        = "chats"
)

// Names under account/{uid} that are not device keys.
const (
	ProfileKey        = "profile"
	NotificationsKey  = "notifications"
	SavedPasswordsKey = "Saved_Social_Passwords"
	DeviceStatusKey   = "device_status"
	SystemLogsKey     = "system_logs"
)

var reservedAccountKeys = map[string]struct{}{
	ProfileKey:        {},
	NotificationsKey:  {},
	SavedPasswordsKey: {},
	DeviceStatusKey:   {},
	SystemLogsKey:     {},
}

// IsReservedKey reports whether name cannot be used as a device key.
func IsReservedKey(name string) bool {
	_, ok := reservedAccountKeys[name]
	return ok
}

// ValidDeviceKey rejects empty, reserved and path-breaking device keys.
func ValidDeviceKey(key string) bool {
	if key == "" || IsReservedKey(key) {
		return false
	}
	return !strings.ContainsAny(key, "/.#$[]")
}

func AccountPath(uid string) string      { return AccountRoot + "/" + uid }
func ProfilePath(uid string) string      { return AccountPath(uid) + "/" + ProfileKey }
func LimitsPath(uid string) string       { return ProfilePath(uid) + "/limits" }
func FrozenPath(uid string) string       { return ProfilePath(uid) + "/security/is_frozen" }
func AccountTypePath(uid string) string  { return ProfilePath(uid) + "/account_type" }
func LoginHistoryPath(uid string) string { return ProfilePath(uid) + "/login_history" }
func LocationInfoPath(uid string) string { return ProfilePath(uid) + "/location_info" }

func LimitPath(uid string, mt MediaType) string { return LimitsPath(uid) + "/" + string(mt) }

func DeletionWarningPath(uid string) string {
	return ProfilePath(uid) + "/deletion_warning_sent"
}

func NotificationsPath(uid string) string  { return AccountPath(uid) + "/" + NotificationsKey }
func SavedPasswordsPath(uid string) string { return AccountPath(uid) + "/" + SavedPasswordsKey }
func DeviceStatusPath(uid string) string   { return AccountPath(uid) + "/" + DeviceStatusKey }

func BatteryAlertPath(uid string) string {
	return AccountPath(uid) + "/" + SystemLogsKey + "/last_battery_alert"
}

func DevicePath(uid, device string) string { return AccountPath(uid) + "/" + device }

func CommandHistoryPath(uid, device string) string {
	return DevicePath(uid, device) + "/CommandHistory"
}

// LegacyCommandsPath is read only; nothing writes there any more.
func LegacyCommandsPath(uid, device string) string {
	return DevicePath(uid, device) + "/commands"
}

func TelemetryPath(uid, device, category string) string {
	return DevicePath(uid, device) + "/" + category + "/data"
}

func AgentKeyPath(uid, device string) string {
	return DevicePath(uid, device) + "/agent/public_key"
}

func VaultAccountPath(uid string) string { return VaultRoot + "/" + uid }

func VaultPath(uid string, kind VaultKind) string {
	return VaultAccountPath(uid) + "/" + string(kind)
}

func IndexPath(uid string) string     { return AccountIndexRoot + "/" + uid }
func AdminPath(uid string) string     { return AdminsRoot + "/" + uid }
func AuthUserPath(uid string) string  { return AuthUsersRoot + "/" + uid }
func AuthEmailPath(key string) string { return AuthEmailsRoot + "/" + key }
func PairingPath(id string) string    { return PairingRoot + "/" + id }

func ChatPath(uid, device string) string {
	return ChatsRoot + "/" + uid + "/" + device + "/messages"
}

// EmailKey makes an email usable as a single path segment.
func EmailKey(email string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(email)), ".", ",")
}
