package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ppi-control/internal/domain"
)

// Channel message defaults.
const (
	DefaultChannel   = "system"
	DefaultDirection = "internal"
	DirectionOutput  = "outbound"
)

// Messenger fans notifications and alerts out to live clients and external channels.
type Messenger struct {
	base
	notifier      domain.Notifier
	alertChannels []string
}

func NewMessenger(deps Deps) *Messenger {
	return &Messenger{
		base:          newBase(domain.AgentMessenger, deps),
		notifier:      deps.Notifier,
		alertChannels: deps.AlertChannels,
	}
}

func (a *Messenger) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.Notify:
		return a.notify(ctx, p)
	case domain.Alert:
		return a.alert(ctx, p)
	case domain.LogMessage:
		return a.logMessage(ctx, p)
	case domain.SendToChannel:
		return a.sendToChannel(ctx, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

// Notification is what clients receive on the notification event.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	ProjectID string         `json:"projectId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// AlertNotice is what clients receive on the alert event.
type AlertNotice struct {
	Notification
	Severity  string   `json:"severity"`
	Delivered []string `json:"delivered,omitempty"`
}

// alertSeverity ranks deadline alerts as warnings and everything else as errors.
func alertSeverity(alertType string) string {
	if strings.Contains(alertType, "deadline") {
		return "warning"
	}
	return "error"
}

func (a *Messenger) notify(ctx context.Context, p domain.Notify) (domain.Result, error) {
	n := Notification{
		ID:        domain.NewID(),
		Type:      p.Type,
		ProjectID: p.ProjectID,
		TaskID:    p.TaskID,
		Timestamp: a.now(),
		Data:      p.Data,
	}
	a.dispatch.Broadcast(ctx, domain.EventNotification, n)

	if err := a.audit(ctx, p.ProjectID, p.TaskID, "notification", "Notification sent: "+p.Type, n); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(n), nil
}

func (a *Messenger) alert(ctx context.Context, p domain.Alert) (domain.Result, error) {
	notice := AlertNotice{
		Notification: Notification{
			ID:        domain.NewID(),
			Type:      p.Type,
			ProjectID: p.ProjectID,
			TaskID:    p.TaskID,
			Timestamp: a.now(),
			Data:      p.Data,
		},
		Severity: alertSeverity(p.Type),
	}
	a.dispatch.Broadcast(ctx, domain.EventAlert, notice)

	if a.notifier != nil && len(a.alertChannels) > 0 {
		content := formatAlert(notice)
		for _, ch := range a.alertChannels {
			if a.notifier.Send(ctx, ch, content) {
				notice.Delivered = append(notice.Delivered, ch)
			} else {
				a.logger.Warn("alert delivery failed", "channel", ch, "type", p.Type)
			}
		}
	}

	if err := a.audit(ctx, p.ProjectID, p.TaskID, "alert", "Alert: "+p.Type, notice); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(notice), nil
}

// formatAlert renders an alert as a single chat line with sorted data keys.
func formatAlert(n AlertNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(n.Severity), n.Type)
	if n.ProjectID != "" {
		fmt.Fprintf(&b, " project=%s", n.ProjectID)
	}
	if n.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", n.TaskID)
	}
	keys := make([]string, 0, len(n.Data))
	for k := range n.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, n.Data[k])
	}
	return b.String()
}

func (a *Messenger) logMessage(ctx context.Context, p domain.LogMessage) (domain.Result, error) {
	channel := p.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	direction := p.Direction
	if direction == "" {
		direction = DefaultDirection
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	saved, err := insert(ctx, a.store, domain.CollectionChannelMessages, domain.ChannelMessage{
		ProjectID: p.ProjectID,
		Channel:   channel,
		Direction: direction,
		Content:   p.Content,
		Metadata:  metadata,
		CreatedAt: a.now(),
	})
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, p.ProjectID, "", "channel", "Message logged on "+channel, map[string]any{"message": saved}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(map[string]any{"logged": true, "message": saved}), nil
}

func (a *Messenger) sendToChannel(ctx context.Context, p domain.SendToChannel) (domain.Result, error) {
	delivered := false
	if a.notifier != nil {
		delivered = a.notifier.Send(ctx, p.Channel, p.Content)
	}
	if !delivered {
		a.logger.Warn("channel delivery failed", "channel", p.Channel)
	}

	saved, err := insert(ctx, a.store, domain.CollectionChannelMessages, domain.ChannelMessage{
		ProjectID: p.ProjectID,
		Channel:   p.Channel,
		Direction: DirectionOutput,
		Content:   p.Content,
		Delivered: &delivered,
		Metadata:  map[string]any{},
		CreatedAt: a.now(),
	})
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, p.ProjectID, "", "channel", "Message sent to "+p.Channel, map[string]any{
		"messageId": saved.ID,
		"channel":   p.Channel,
		"delivered": delivered,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(saved), nil
}

var _ domain.Agent = (*Messenger)(nil)
