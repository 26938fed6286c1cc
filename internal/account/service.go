package account

import (
	"context"
	"errors"
	"time"

	"famtool-server/internal/audit"
	"famtool-server/internal/command"
	"famtool-server/internal/identity"
	"famtool-server/internal/model"
	"famtool-server/internal/notify"
	"famtool-server/internal/quota"
	"famtool-server/internal/rpc"
	"famtool-server/internal/store"

	"github.com/rs/zerolog"
)

const (
	unknownField   = "Unknown"
	defaultBrowser = "Android App"
	defaultListLen = 100
)

// Service implements the admin and self-service operations.
type Service struct {
	st        store.Store
	admins    *rpc.Admins
	quota     *quota.Manager
	audit     *audit.Log
	sink      *notify.Sink
	history   *command.History
	ids       *identity.Service
	lifecycle *Lifecycle
	logger    zerolog.Logger
	now       func() time.Time
}

type Deps struct {
	Store     store.Store
	Admins    *rpc.Admins
	Quota     *quota.Manager
	Audit     *audit.Log
	Notify    *notify.Sink
	History   *command.History
	Identity  *identity.Service
	Lifecycle *Lifecycle
	Logger    zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		st:        d.Store,
		admins:    d.Admins,
		quota:     d.Quota,
		audit:     d.Audit,
		sink:      d.Notify,
		history:   d.History,
		ids:       d.Identity,
		lifecycle: d.Lifecycle,
		logger:    d.Logger.With().Str("component", "account").Logger(),
		now:       time.Now,
	}
}

type LimitsRequest struct {
	TargetUID  string `json:"targetUid"`
	PhotoLimit *int64 `json:"photoLimit"`
	VideoLimit *int64 `json:"videoLimit"`
	AudioLimit *int64 `json:"audioLimit"`
	// Limit applies to every media type when no per-type value is given.
	Limit *int64 `json:"limit"`
}

func (s *Service) UpdateUserLimits(ctx context.Context, req LimitsRequest) (rpc.Result, error) {
	caller, err := s.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if req.TargetUID == "" {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "targetUid is required.")
	}

	limits := make(map[model.MediaType]int64, len(model.MediaTypes))
	for mt, v := range map[model.MediaType]*int64{
		model.MediaPhotos: req.PhotoLimit,
		model.MediaVideos: req.VideoLimit,
		model.MediaAudio:  req.AudioLimit,
	} {
		if v != nil {
			limits[mt] = *v
		}
	}
	if len(limits) == 0 && req.Limit != nil {
		for _, mt := range model.MediaTypes {
			limits[mt] = *req.Limit
		}
	}
	if len(limits) == 0 {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "At least one limit is required.")
	}
	for _, n := range limits {
		if n < 0 {
			return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "Limits must not be negative.")
		}
	}

	if err := s.quota.SetMax(ctx, req.TargetUID, limits); err != nil {
		return rpc.Result{}, err
	}

	meta := map[string]any{"targetUid": req.TargetUID}
	for mt, n := range limits {
		meta[string(mt)] = n
	}
	s.audit.RecordAfter(ctx, audit.LimitUpdated, caller, meta)
	return rpc.OK("Limits updated successfully."), nil
}

func (s *Service) ManualGhostDelete(ctx context.Context, targetUID string) (rpc.Result, error) {
	caller, err := s.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if targetUID == "" {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "targetUid is required.")
	}
	if err := s.lifecycle.Erase(ctx, targetUID); err != nil {
		return rpc.Result{}, err
	}
	s.audit.RecordAfter(ctx, audit.ManualGhostDelete, caller, map[string]any{"targetUid": targetUID})
	return rpc.OK("User %s has been deleted.", targetUID), nil
}

func (s *Service) ChangeUserPlan(ctx context.Context, targetUID string, plan model.Plan) (rpc.Result, error) {
	caller, err := s.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if targetUID == "" {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "targetUid is required.")
	}
	if !plan.Valid() {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "Invalid plan type.")
	}

	// The index entry follows through the replica trigger.
	if err := s.st.Set(ctx, model.AccountTypePath(targetUID), string(plan)); err != nil {
		return rpc.Result{}, err
	}
	s.audit.RecordAfter(ctx, audit.PlanChanged, caller, map[string]any{"targetUid": targetUID, "newPlan": string(plan)})
	s.sink.TryNotify(ctx, targetUID, model.NotifyInfo, "Your account plan has been upgraded to "+string(plan)+".", map[string]any{"plan": string(plan)})
	return rpc.OK("User plan changed to %s.", plan), nil
}

func (s *Service) ClearUserChat(ctx context.Context, targetUID, deviceKey string) (rpc.Result, error) {
	caller, err := s.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if targetUID == "" || !model.ValidDeviceKey(deviceKey) {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "childKey is required.")
	}
	if err := s.st.Delete(ctx, model.ChatPath(targetUID, deviceKey)); err != nil {
		return rpc.Result{}, err
	}
	s.audit.RecordAfter(ctx, audit.ChatCleared, caller, map[string]any{"targetUid": targetUID, "childKey": deviceKey})
	return rpc.OK("Chat cleared for user %s, device %s.", targetUID, deviceKey), nil
}

func (s *Service) DeleteChildDevice(ctx context.Context, parentUID, deviceKey string) (rpc.Result, error) {
	caller, err := s.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if parentUID == "" || !model.ValidDeviceKey(deviceKey) {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "parentUid and childKey are required.")
	}
	if err := s.st.Delete(ctx, model.DevicePath(parentUID, deviceKey)); err != nil {
		return rpc.Result{}, err
	}
	s.audit.RecordAfter(ctx, audit.DeviceDeleted, caller, map[string]any{"parentUid": parentUID, "childKey": deviceKey})
	return rpc.OK("Device deleted successfully."), nil
}

func (s *Service) FreezeUserAccount(ctx context.Context, targetUID string, isFrozen *bool) (rpc.Result, error) {
	caller, err := s.admins.Verify(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if targetUID == "" || isFrozen == nil {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "targetUid and isFrozen are required")
	}
	if err := s.st.Set(ctx, model.FrozenPath(targetUID), *isFrozen); err != nil {
		return rpc.Result{}, err
	}

	action, msg := audit.AccountUnfrozen, "Account unfrozen successfully"
	if *isFrozen {
		action, msg = audit.AccountFrozen, "Account frozen successfully"
	}
	s.audit.RecordAfter(ctx, action, caller, map[string]any{"targetUid": targetUID, "timestamp": s.now().UnixMilli()})
	return rpc.OK(msg), nil
}

type LocationRequest struct {
	IP      string   `json:"ip"`
	City    string   `json:"city"`
	Country string   `json:"country"`
	Device  string   `json:"device"`
	Browser string   `json:"browser"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// UpdateUserLocation records the caller's own login location.
func (s *Service) UpdateUserLocation(ctx context.Context, req LocationRequest) (rpc.Result, error) {
	uid, err := rpc.RequireCaller(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	now := s.now().UnixMilli()
	entry := model.LoginEntry{
		IP:          orDefault(req.IP, unknownField),
		City:        orDefault(req.City, unknownField),
		Country:     orDefault(req.Country, unknownField),
		Device:      orDefault(req.Device, unknownField),
		Browser:     orDefault(req.Browser, defaultBrowser),
		Timestamp:   now,
		RequestedBy: uid,
	}
	if _, err := s.st.Push(ctx, model.LoginHistoryPath(uid), entry); err != nil {
		return rpc.Result{}, err
	}

	info := model.LocationInfo{
		IP:            entry.IP,
		City:          entry.City,
		Country:       entry.Country,
		Device:        entry.Device,
		Browser:       entry.Browser,
		Coords:        model.Coords{Lat: orZero(req.Lat), Lon: orZero(req.Lon)},
		LastLoginTime: now,
	}
	if err := s.st.Set(ctx, model.LocationInfoPath(uid), info); err != nil {
		return rpc.Result{}, err
	}
	return rpc.OK("Location and login history updated."), nil
}

// DeleteMyAccount removes the caller's identity; the identity cleanup trigger
// removes the data.
func (s *Service) DeleteMyAccount(ctx context.Context) (rpc.Result, error) {
	uid, err := rpc.RequireCaller(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if err := s.ids.Delete(ctx, uid); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return rpc.Result{}, rpc.Errorf(rpc.NotFound, "Account not found.")
		}
		return rpc.Result{}, err
	}
	s.audit.RecordAfter(ctx, audit.AccountDeleted, uid, map[string]any{"targetUid": uid})
	return rpc.OK("Account deleted successfully."), nil
}

// AuditView is an audit entry with its integrity check result.
type AuditView struct {
	model.AuditEntry
	Verified bool `json:"verified"`
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]AuditView, error) {
	if _, err := s.admins.Verify(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultListLen
	}
	entries, err := s.audit.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditView, len(entries))
	for i, e := range entries {
		out[i] = AuditView{AuditEntry: e, Verified: audit.Verify(e)}
	}
	return out, nil
}

type HistoryView struct {
	Entries []model.CommandEntry `json:"entries"`
	Legacy  bool                 `json:"legacy"`
}

// GetCommandHistory is open to the account owner and to admins.
func (s *Service) GetCommandHistory(ctx context.Context, targetUID, deviceKey string, limit int) (HistoryView, error) {
	caller, err := rpc.RequireCaller(ctx)
	if err != nil {
		return HistoryView{}, err
	}
	if targetUID == "" {
		targetUID = caller
	}
	if caller != targetUID {
		if _, err := s.admins.Verify(ctx); err != nil {
			return HistoryView{}, err
		}
	}
	if !model.ValidDeviceKey(deviceKey) {
		return HistoryView{}, rpc.Errorf(rpc.InvalidArgument, "childKey is required.")
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultListLen
	}
	entries, legacy, err := s.history.List(ctx, targetUID, deviceKey, limit)
	if err != nil {
		return HistoryView{}, err
	}
	return HistoryView{Entries: entries, Legacy: legacy}, nil
}

func (s *Service) ListNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	uid, err := rpc.RequireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultListLen
	}
	return s.sink.List(ctx, uid, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) (rpc.Result, error) {
	uid, err := rpc.RequireCaller(ctx)
	if err != nil {
		return rpc.Result{}, err
	}
	if id == "" {
		return rpc.Result{}, rpc.Errorf(rpc.InvalidArgument, "id is required.")
	}
	if err := s.sink.MarkRead(ctx, uid, id); err != nil {
		return rpc.Result{}, rpc.Errorf(rpc.NotFound, "Notification not found.")
	}
	return rpc.OK("Notification marked as read."), nil
}
