package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ppi-control/internal/domain"
)

// Daily feed document defaults.
const (
	DailyFeedType     = "daily_feed"
	DailyFeedCategory = "feed"
)

// FeedItem is one collected activity waiting for the end-of-day flush.
type FeedItem struct {
	ProjectID   string         `json:"projectId,omitempty"`
	Type        string         `json:"type,omitempty"`
	Category    string         `json:"category,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CollectedAt time.Time      `json:"collectedAt"`
}

type feedGroup struct {
	projectID string
	items     []FeedItem
}

// DailyFeed buffers activity during the day and stores one document per
// project when flushed.
type DailyFeed struct {
	base

	mu     sync.Mutex
	buffer []FeedItem

	// flushMu keeps concurrent flushes from interleaving their re-queues.
	flushMu sync.Mutex
}

func NewDailyFeed(deps Deps) *DailyFeed {
	return &DailyFeed{base: newBase(domain.AgentDailyFeed, deps)}
}

func (a *DailyFeed) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.CollectFeed:
		return a.collect(ctx, p)
	case domain.SendFeed:
		return a.send(ctx, msg)
	case domain.GetFeed:
		return a.summary(ctx)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

// Pending returns the number of buffered items.
func (a *DailyFeed) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

func (a *DailyFeed) collect(ctx context.Context, p domain.CollectFeed) (domain.Result, error) {
	item := FeedItem{
		ProjectID:   p.ProjectID,
		Type:        p.Type,
		Category:    p.Category,
		Data:        p.Data,
		CollectedAt: a.now(),
	}
	kind := p.Type
	if kind == "" {
		kind = "item"
	}
	// Audited before buffering so a faulted collect leaves nothing behind.
	if err := a.audit(ctx, p.ProjectID, "", DailyFeedCategory, "Data collected: "+kind, map[string]any{
		"type":     p.Type,
		"category": p.Category,
		"data":     p.Data,
	}); err != nil {
		return domain.Result{}, err
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, item)
	total := len(a.buffer)
	a.mu.Unlock()
	return domain.OK(map[string]any{"collected": true, "dailyTotal": total}), nil
}

// drain takes the whole buffer, leaving it empty.
func (a *DailyFeed) drain() []FeedItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	items := a.buffer
	a.buffer = nil
	return items
}

// requeue puts items back ahead of anything collected since the drain.
func (a *DailyFeed) requeue(items []FeedItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = append(items, a.buffer...)
}

// groupByProject keeps first-seen project order.
func groupByProject(items []FeedItem) []feedGroup {
	var groups []feedGroup
	index := make(map[string]int)
	for _, it := range items {
		key := it.ProjectID
		if key == "" {
			key = GeneralProject
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, feedGroup{projectID: key})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

// FlushResult is the outcome of feed:send.
type FlushResult struct {
	Sent     bool            `json:"sent"`
	Message  string          `json:"message,omitempty"`
	Count    int             `json:"count,omitempty"`
	Projects []string        `json:"projects,omitempty"`
	Requeued int             `json:"requeued,omitempty"`
	Results  []domain.Result `json:"results,omitempty"`
}

func (a *DailyFeed) send(ctx context.Context, msg domain.Message) (domain.Result, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	items := a.drain()
	if len(items) == 0 {
		return domain.OK(FlushResult{Sent: false, Message: "No data to send"}), nil
	}

	date := a.now().Format(time.DateOnly)
	groups := groupByProject(items)
	out := FlushResult{Results: make([]domain.Result, 0, len(groups))}
	var rejected []FeedItem
	for i, g := range groups {
		res, err := a.storeGroup(ctx, msg, g, date)
		if err != nil {
			unsent := rejected
			for _, rest := range groups[i:] {
				unsent = append(unsent, rest.items...)
			}
			a.requeue(unsent)
			a.logger.Warn("daily feed flush interrupted", "stored_groups", i, "requeued", len(unsent), "error", err)
			return domain.Result{}, err
		}
		out.Results = append(out.Results, res)
		if res.Failed() {
			a.logger.Info("daily feed group rejected", "project", g.projectID, "reason", res.Failure.Reason)
			rejected = append(rejected, g.items...)
			continue
		}
		out.Projects = append(out.Projects, g.projectID)
		out.Count += len(g.items)
	}
	if len(rejected) > 0 {
		a.requeue(rejected)
		out.Requeued = len(rejected)
	}
	if out.Count == 0 {
		out.Message = "No group stored"
		return domain.OK(out), nil
	}
	out.Sent = true

	action := fmt.Sprintf("Daily feed sent: %d items", out.Count)
	if err := a.audit(ctx, "", "", DailyFeedCategory, action, map[string]any{
		"count":    out.Count,
		"projects": out.Projects,
		"requeued": out.Requeued,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(out), nil
}

func (a *DailyFeed) storeGroup(ctx context.Context, msg domain.Message, g feedGroup, date string) (domain.Result, error) {
	content, err := json.Marshal(g.items)
	if err != nil {
		return domain.Result{}, fmt.Errorf("encode daily feed: %w", err)
	}
	projectID := g.projectID
	if projectID == GeneralProject {
		projectID = ""
	}
	return a.dispatch.Chain(ctx, msg, domain.AgentDatabase, domain.StoreData{
		ProjectID: projectID,
		Name:      "daily_feed_" + date,
		Type:      DailyFeedType,
		Category:  DailyFeedCategory,
		Content:   string(content),
		Metadata:  map[string]any{"date": date, "itemCount": len(g.items)},
	})
}

// FeedSummary counts today's audit entries.
type FeedSummary struct {
	Date            string         `json:"date"`
	TotalActivities int            `json:"totalActivities"`
	ByAgent         map[string]int `json:"byAgent"`
	ByCategory      map[string]int `json:"byCategory"`
	Pending         int            `json:"pending"`
}

func (a *DailyFeed) summary(ctx context.Context) (domain.Result, error) {
	now := a.now()
	entries, err := a.feed.Since(ctx, startOfDay(now))
	if err != nil {
		return domain.Result{}, err
	}
	s := FeedSummary{
		Date:            now.Format(time.DateOnly),
		TotalActivities: len(entries),
		ByAgent:         make(map[string]int),
		ByCategory:      make(map[string]int),
		Pending:         a.Pending(),
	}
	for _, e := range entries {
		agent := string(e.Agent)
		if agent == "" {
			agent = "unknown"
		}
		category := e.Category
		if category == "" {
			category = "unknown"
		}
		s.ByAgent[agent]++
		s.ByCategory[category]++
	}
	return domain.OK(s), nil
}

var _ domain.Agent = (*DailyFeed)(nil)
