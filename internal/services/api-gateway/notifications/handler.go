package notifications

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/NordCoder/Questline/internal/domain/notification"
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/NordCoder/Questline/internal/obs"
	"github.com/NordCoder/Questline/internal/services/api-gateway/delivery"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Notifications interface {
	CreateNotification(ctx context.Context, in delivery.CreateInput) (*notification.Notification, error)
	GetUserNotifications(ctx context.Context, userID string, opts notification.ListOptions) (notification.Page, error)
	MarkAsRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllAsRead(ctx context.Context, userID string) (bool, error)
	GetUnreadCount(ctx context.Context, userID string) (int, error)
}

type Preferences interface {
	Get(ctx context.Context, userID string, t notification.Type) (*notification.Preference, error)
	List(ctx context.Context, userID string) ([]notification.Preference, error)
	Update(ctx context.Context, userID string, t notification.Type, patch notification.PreferencePatch) (*notification.Preference, error)
	UpdateMany(ctx context.Context, userID string, patches map[notification.Type]notification.PreferencePatch) ([]notification.Preference, error)
	Seed(ctx context.Context, userID string) ([]notification.Preference, error)
}

type Realtime interface {
	Enabled() bool
	Status() domain.Status
	Reconnect(ctx context.Context) error
}

type Handler struct {
	svc   Notifications
	prefs Preferences
	rt    Realtime
	log   *zap.Logger
}

func NewHandler(svc Notifications, prefs Preferences, rt Realtime, log *zap.Logger) *Handler {
	return &Handler{svc: svc, prefs: prefs, rt: rt, log: obs.Component(log, "http.notifications")}
}

type createRequest struct {
	UserID   string         `json:"user_id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Title == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "title and message are required")
		return
	}
	n, err := h.svc.CreateNotification(r.Context(), delivery.CreateInput{
		UserID:   req.UserID,
		Type:     notification.Type(req.Type),
		Title:    req.Title,
		Message:  req.Message,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts notification.ListOptions
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	if v := q.Get("unread_only"); v != "" {
		if opts.UnreadOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid unread_only")
			return
		}
	}

	page, err := h.svc.GetUserNotifications(r.Context(), chi.URLParam(r, "userID"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetUnreadCount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.MarkAsRead(r.Context(), chi.URLParam(r, "notificationID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": ok})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.MarkAllAsRead(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": ok})
}

func (h *Handler) ListPreferences(w http.ResponseWriter, r *http.Request) {
	list, err := h.prefs.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": list})
}

func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	p, err := h.prefs.Get(r.Context(), chi.URLParam(r, "userID"), notification.Type(chi.URLParam(r, "type")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "preference not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	var patch notification.PreferencePatch
	if !h.decode(w, r, &patch) {
		return
	}
	p, err := h.prefs.Update(r.Context(), chi.URLParam(r, "userID"), notification.Type(chi.URLParam(r, "type")), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "preference not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePreferences takes {"<type>": {"in_app_enabled": .., "email_enabled": ..}, ...}
// and applies every patch or none.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var body map[notification.Type]notification.PreferencePatch
	if !h.decode(w, r, &body) {
		return
	}
	list, err := h.prefs.UpdateMany(r.Context(), chi.URLParam(r, "userID"), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": list})
}

func (h *Handler) SeedPreferences(w http.ResponseWriter, r *http.Request) {
	list, err := h.prefs.Seed(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": list})
}

type realtimeStatus struct {
	Status  domain.Status `json:"status"`
	Enabled bool          `json:"enabled"`
}

// RealtimeStatus reports enabled=false when no transport is configured, in
// which case the status stays CLOSED for good.
func (h *Handler) RealtimeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, realtimeStatus{Status: h.rt.Status(), Enabled: h.rt.Enabled()})
}

// RealtimeReconnect restarts the connection after the automatic attempts
// ran out. The dial outlives the request.
func (h *Handler) RealtimeReconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.Reconnect(context.WithoutCancel(r.Context())); err != nil {
		h.log.Warn("manual reconnect", zap.Error(err))
	}
	writeJSON(w, http.StatusAccepted, map[string]domain.Status{"status": h.rt.Status()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notification.ErrInvalidType),
		errors.Is(err, notification.ErrUserIDRequired),
		errors.Is(err, delivery.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
