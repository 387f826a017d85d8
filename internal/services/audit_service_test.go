package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/auth"
	testutil "github.com/taskhive/taskhive/internal/database/testutil"
	"github.com/taskhive/taskhive/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc, err := NewAuditService(db, clock.Now)
	require.NoError(t, err)

	ctx := context.Background()
	actor := "3f1f1a2e-6a6b-4c1d-9a55-8b9d3a0b7c11"
	require.NoError(t, svc.Log(ctx, AuditEntry{
		ActorID:  &actor,
		Action:   "company.approve",
		Resource: "companies",
		Result:   "success",
		Metadata: map[string]any{"company_id": "c-1"},
	}))
	clock.Advance(time.Minute)
	svc.Record(ctx, auth.AuditEvent{ActorID: actor, Action: auth.AuditActionLogin, Result: "success"})

	require.Error(t, svc.Log(ctx, AuditEntry{Result: "success"}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, auth.AuditActionLogin, logs[0].Action)
	require.Equal(t, "auth", logs[0].Resource)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(logs[1].Metadata, &metadata))
	require.Equal(t, "c-1", metadata["company_id"])

	filtered, total, err := svc.List(ctx, AuditListOptions{Filters: AuditFilters{Action: "company.approve", ActorID: actor}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, filtered, 1)
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc, err := NewAuditService(db, clock.Now)
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "old.action",
		Result:    "success",
		CreatedAt: clock.Now().AddDate(0, 0, -10),
	}).Error)
	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "new.action",
		Result:    "success",
		CreatedAt: clock.Now(),
	}).Error)

	ctx := context.Background()
	rows, err := svc.CleanupOlderThan(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = svc.CleanupOlderThan(ctx, 0)
	require.Error(t, err)
}

type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
