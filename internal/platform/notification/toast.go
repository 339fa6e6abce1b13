// Package notification shows short-lived toasts to staff screens and sends
// templated notices to staff and patients.
package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/platform/websocket"
)

type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
	ToastWarning ToastType = "warning"
	ToastInfo    ToastType = "info"
)

// Valid reports whether t is one of the four toast types.
func (t ToastType) Valid() bool {
	switch t {
	case ToastSuccess, ToastError, ToastWarning, ToastInfo:
		return true
	}
	return false
}

// Event types published on the notifications topic.
const (
	EventShown     = "notification.shown"
	EventDismissed = "notification.dismissed"
)

// Toast is a notice that disappears after its TTL. An empty Recipient means
// every screen.
type Toast struct {
	ID         string            `json:"id"`
	Type       ToastType         `json:"type"`
	Title      string            `json:"title,omitempty"`
	Message    string            `json:"message"`
	Recipient  string            `json:"recipient,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Expired reports whether the toast is past its expiry at now.
func (t *Toast) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Notifier is what domain services use to raise toasts.
type Notifier interface {
	Show(ctx context.Context, t Toast) (*Toast, error)
	Notify(ctx context.Context, templateID, recipient string, data map[string]string) (*Toast, error)
}

// Manager keeps live toasts and pushes them over the event hub.
type Manager struct {
	ttl       time.Duration
	templates *TemplateEngine
	publisher websocket.EventPublisher
	sms       SMSSender
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	toasts map[string]*Toast
}

// NewManager builds a manager. publisher and sms may be nil.
func NewManager(ttl time.Duration, templates *TemplateEngine, publisher websocket.EventPublisher, sms SMSSender, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if templates == nil {
		templates = NewTemplateEngine()
	}
	if publisher == nil {
		publisher = websocket.NopPublisher{}
	}
	return &Manager{
		ttl:       ttl,
		templates: templates,
		publisher: publisher,
		sms:       sms,
		logger:    logger.With().Str("component", "notifications").Logger(),
		now:       time.Now,
		toasts:    make(map[string]*Toast),
	}
}

// Templates returns the engine used by Notify.
func (m *Manager) Templates() *TemplateEngine { return m.templates }

// Show stores t with a fresh id and expiry and publishes it.
func (m *Manager) Show(ctx context.Context, t Toast) (*Toast, error) {
	if t.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if t.Type == "" {
		t.Type = ToastInfo
	}
	if !t.Type.Valid() {
		return nil, fmt.Errorf("invalid toast type %q", t.Type)
	}

	t.ID = uuid.New().String()
	t.CreatedAt = m.now().UTC()
	t.ExpiresAt = t.CreatedAt.Add(m.ttl)

	m.mu.Lock()
	m.toasts[t.ID] = &t
	m.mu.Unlock()

	out := t
	evt := websocket.NewEvent(EventShown, websocket.TopicNotifications, "toast", t.ID, out)
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn().Err(err).Str("toast_id", t.ID).Msg("failed to publish toast")
	}
	m.logger.Debug().Str("toast_id", t.ID).Str("type", string(t.Type)).Str("recipient", t.Recipient).Msg("toast shown")
	return &out, nil
}

// Success, Error, Warning and Info are shorthands for Show.
func (m *Manager) Success(ctx context.Context, recipient, message string) (*Toast, error) {
	return m.Show(ctx, Toast{Type: ToastSuccess, Recipient: recipient, Message: message})
}

func (m *Manager) Error(ctx context.Context, recipient, message string) (*Toast, error) {
	return m.Show(ctx, Toast{Type: ToastError, Recipient: recipient, Message: message})
}

func (m *Manager) Warning(ctx context.Context, recipient, message string) (*Toast, error) {
	return m.Show(ctx, Toast{Type: ToastWarning, Recipient: recipient, Message: message})
}

func (m *Manager) Info(ctx context.Context, recipient, message string) (*Toast, error) {
	return m.Show(ctx, Toast{Type: ToastInfo, Recipient: recipient, Message: message})
}

// Notify renders templateID with data into a toast for recipient. When data
// carries a "phone" the body is also sent by SMS; an SMS failure is logged
// and does not fail the toast.
func (m *Manager) Notify(ctx context.Context, templateID, recipient string, data map[string]string) (*Toast, error) {
	title, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	tpl, _ := m.templates.Get(templateID)

	toast, err := m.Show(ctx, Toast{
		Type:       tpl.Type,
		Title:      title,
		Message:    body,
		Recipient:  recipient,
		TemplateID: templateID,
		Data:       data,
	})
	if err != nil {
		return nil, err
	}

	if phone := data["phone"]; phone != "" && m.sms != nil {
		if err := m.sms.SendSMS(ctx, phone, body); err != nil {
			m.logger.Warn().Err(err).Str("template", templateID).Msg("sms delivery failed")
		}
	}
	return toast, nil
}

// Remove dismisses a toast before it expires.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.toasts[id]
	delete(m.toasts, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("toast %q not found", id)
	}
	_ = m.publisher.Publish(ctx, websocket.NewEvent(EventDismissed, websocket.TopicNotifications, "toast", id, nil))
	return nil
}

// List returns live toasts for recipient, including broadcast ones, oldest
// first. An empty recipient returns every live toast.
func (m *Manager) List(_ context.Context, recipient string) []*Toast {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Toast{}
	for _, t := range m.toasts {
		if t.Expired(now) {
			continue
		}
		if recipient != "" && t.Recipient != "" && t.Recipient != recipient {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep drops toasts expired at now and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.toasts {
		if t.Expired(now) {
			delete(m.toasts, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("expired toasts swept")
			}
		}
	}
}
