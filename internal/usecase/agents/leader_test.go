package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

func (h *harness) createTask(projectID, title string, due *time.Time) domain.Task {
	h.t.Helper()
	return ok[domain.Task](h.t, h.submit(domain.AgentLeader, domain.CreateTask{
		ProjectID: projectID,
		Title:     title,
		DueDate:   due,
	}))
}

func (h *harness) waitEvent(eventType domain.EventType) <-chan domain.Event {
	ch := make(chan domain.Event, 16)
	unsub := h.bus.Subscribe(eventType, func(_ context.Context, e domain.Event) { ch <- e })
	h.t.Cleanup(unsub)
	return ch
}

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestLeader_CreateTask(t *testing.T) {
	h := newHarness(t)
	notifications := h.waitEvent(domain.EventNotification)

	task := h.createTask("p1", "Write report", nil)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, domain.ColumnNew, task.Column)
	assert.Equal(t, domain.PriorityMedium, task.Priority)
	assert.Equal(t, testEpoch, task.CreatedAt)

	entries := h.audits()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AgentLeader, entries[0].Agent)
	assert.Equal(t, "task", entries[0].Category)
	assert.Equal(t, "p1", entries[0].ProjectID)
	assert.Equal(t, task.ID, entries[0].TaskID)
	assert.Equal(t, domain.AgentMessenger, entries[1].Agent)
	assert.Equal(t, "notification", entries[1].Category)

	e := receive(t, notifications)
	var n Notification
	require.NoError(t, json.Unmarshal(e.Payload, &n))
	assert.Equal(t, "task_created", n.Type)
	assert.Equal(t, task.ID, n.TaskID)
}

func TestLeader_CreateTaskRejectsBadPriority(t *testing.T) {
	h := newHarness(t)
	msg := domain.Message{
		ID:      "m1",
		From:    domain.SenderSystem,
		To:      domain.AgentLeader,
		Action:  domain.ActionTaskCreate,
		Payload: domain.CreateTask{ProjectID: "p1", Title: "x", Priority: "urgent"},
	}
	res, err := h.router.Submit(h.ctx, msg)
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, "invalid payload", res.Failure.Reason)
	assert.Empty(t, h.audits())
}

func TestLeader_MoveTask(t *testing.T) {
	h := newHarness(t)
	updates := h.waitEvent(domain.EventTaskUpdated)
	task := h.createTask("p1", "Move me", nil)

	moved := ok[domain.Task](t, h.submit(domain.AgentLeader, domain.MoveTask{TaskID: task.ID, Column: domain.ColumnDone}))
	assert.Equal(t, domain.ColumnDone, moved.Column)

	// Lateral and backwards moves are allowed.
	back := ok[domain.Task](t, h.submit(domain.AgentLeader, domain.MoveTask{TaskID: task.ID, Column: domain.ColumnInProgress}))
	assert.Equal(t, domain.ColumnInProgress, back.Column)

	e := receive(t, updates)
	assert.Equal(t, domain.EventTaskUpdated, e.Type)
	assert.Len(t, h.auditsBy(domain.AgentLeader), 3)
}

func TestLeader_MoveMissingTask(t *testing.T) {
	h := newHarness(t)
	res := h.submit(domain.AgentLeader, domain.MoveTask{TaskID: "nope", Column: domain.ColumnDone})
	require.True(t, res.Failed())
	assert.Equal(t, "Task not found", res.Failure.Reason)
	assert.Equal(t, domain.FailureBusiness, res.Failure.Kind)
	assert.Empty(t, h.audits())
	assert.Zero(t, h.mem.Writes())
}

func TestLeader_AssignTask(t *testing.T) {
	h := newHarness(t)
	task := h.createTask("p1", "Pay grants", nil)

	assigned := ok[domain.Task](t, h.submit(domain.AgentLeader, domain.AssignTask{TaskID: task.ID, Agent: domain.AgentFinancial}))
	assert.Equal(t, domain.ColumnAllocated, assigned.Column)
	assert.Equal(t, domain.AgentFinancial, assigned.AssignedAgent)

	entries := h.auditsBy(domain.AgentLeader)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1].Action, "financial")
	// The assignee acknowledges without writing an audit entry.
	assert.Empty(t, h.auditsBy(domain.AgentFinancial))
}

func TestLeader_AssignToUnknownAgentKeepsAssignment(t *testing.T) {
	h := newHarness(t)
	task := h.createTask("p1", "Orphan", nil)

	res := h.submit(domain.AgentLeader, domain.AssignTask{TaskID: task.ID, Agent: "ghost"})
	assigned := ok[domain.Task](t, res)
	assert.Equal(t, domain.AgentID("ghost"), assigned.AssignedAgent)

	recs := h.records(domain.CollectionTasks, map[string]any{"id": task.ID})
	require.Len(t, recs, 1)
	assert.Equal(t, "allocated", recs[0]["column"])
}

func TestLeader_DeadlineScan(t *testing.T) {
	h := newHarness(t)
	in24h := testEpoch.Add(24 * time.Hour)
	in72h := testEpoch.Add(72 * time.Hour)
	overdue := testEpoch.Add(-5 * 24 * time.Hour)

	soon := h.createTask("p1", "Due soon", &in24h)
	h.submit(domain.AgentLeader, domain.MoveTask{TaskID: soon.ID, Column: domain.ColumnInProgress})
	h.createTask("p1", "Due later", &in72h)
	finished := h.createTask("p1", "Already done", &overdue)
	h.submit(domain.AgentLeader, domain.MoveTask{TaskID: finished.ID, Column: domain.ColumnDone})
	late := h.createTask("p2", "Overdue", &overdue)
	h.createTask("p2", "No due date", nil)

	before := len(h.auditsBy(domain.AgentMessenger))
	scan := ok[DeadlineScan](t, h.submit(domain.AgentLeader, domain.ScanDeadlines{}))
	assert.Equal(t, 3, scan.Checked)
	assert.ElementsMatch(t, []string{soon.ID, late.ID}, scan.Alerted)

	alerts := h.auditsBy(domain.AgentMessenger)[before:]
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, "alert", a.Category)
	}

	sent := h.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "slack", sent[0].channel)
	assert.True(t, strings.HasPrefix(sent[0].content, "[WARNING] deadline_warning"))
}

func TestLeader_DeadlineScanSingleAlert(t *testing.T) {
	h := newHarness(t)
	due := testEpoch.Add(24 * time.Hour)
	task := h.createTask("p1", "Due tomorrow", &due)
	h.submit(domain.AgentLeader, domain.MoveTask{TaskID: task.ID, Column: domain.ColumnInProgress})

	alerts := h.waitEvent(domain.EventAlert)
	h.submit(domain.AgentLeader, domain.ScanDeadlines{})

	e := receive(t, alerts)
	var notice AlertNotice
	require.NoError(t, json.Unmarshal(e.Payload, &notice))
	assert.Equal(t, "warning", notice.Severity)
	assert.Equal(t, task.ID, notice.TaskID)

	select {
	case extra := <-alerts:
		t.Fatalf("unexpected second alert: %s", extra.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeader_DailyReport(t *testing.T) {
	h := newHarness(t)
	reports := h.waitEvent(domain.EventReportGenerated)
	h.createTask("p1", "One", nil)
	h.createTask("p1", "Two", nil)

	rep := ok[Report](t, h.submit(domain.AgentLeader, domain.DailyReport{}))
	assert.Equal(t, "daily", rep.Period)
	assert.Equal(t, "2026-03-10", rep.Date)
	assert.Len(t, rep.Activities, 4)
	assert.Equal(t, 2, rep.TaskSummary[domain.ColumnNew])

	last := h.audits()[len(h.audits())-1]
	assert.Equal(t, "report", last.Category)
	assert.Equal(t, domain.AgentLeader, last.Agent)

	receive(t, reports)
}

func TestLeader_WeeklyReportWindow(t *testing.T) {
	h := newHarness(t)
	h.createTask("p1", "Old", nil)
	h.clock.Advance(8 * 24 * time.Hour)
	h.createTask("p1", "Fresh", nil)

	rep := ok[Report](t, h.submit(domain.AgentLeader, domain.WeeklyReport{}))
	assert.Equal(t, "weekly", rep.Period)
	assert.Len(t, rep.Activities, 2)
	assert.Equal(t, 2, rep.TaskSummary[domain.ColumnNew])
}

func TestLeader_UnknownAction(t *testing.T) {
	h := newHarness(t)
	p, err := domain.DecodePayload("task:explode", nil)
	require.NoError(t, err)

	res := h.submit(domain.AgentLeader, p)
	require.True(t, res.Failed())
	assert.Equal(t, "unknown action", res.Failure.Reason)
	assert.Equal(t, "task:explode", res.Failure.Context["action"])
}

func TestLeader_StoreFaultWritesNoAudit(t *testing.T) {
	h := newHarness(t)
	h.failStore(domain.CollectionTasks)

	_, err := h.submitErr(domain.AgentLeader, domain.CreateTask{ProjectID: "p1", Title: "Lost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, h.audits())
}
