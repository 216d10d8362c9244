package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/alert"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/store"
)

func TestBoard_FavoritesFirstWithAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 4 {
		h.report(t, models.PriorityMedium)
	}
	_, err := h.engine.AssignTeam(ctx, "BUG-3", "web", lead)
	require.NoError(t, err)

	_, err = h.engine.ToggleFavorite(ctx, "BUG-2", dev)
	require.NoError(t, err)
	_, err = h.engine.ToggleFavorite(ctx, "BUG-4", dev)
	require.NoError(t, err)

	h.clock.Advance(45 * time.Minute)
	views, err := h.engine.Board(ctx, store.BugListFilter{}, dev)
	require.NoError(t, err)
	require.Len(t, views, 4)

	var order []string
	for _, v := range views {
		order = append(order, v.ID)
	}
	assert.Equal(t, []string{"BUG-2", "BUG-4", "BUG-1", "BUG-3"}, order)
	assert.True(t, views[0].Favorite)
	assert.False(t, views[2].Favorite)
	assert.Equal(t, alert.Low, views[0].Alerts.Unassigned)
	assert.Equal(t, alert.None, views[3].Alerts.Unassigned)

	// Another user sees plain ID order.
	views, err = h.engine.Board(ctx, store.BugListFilter{}, tester)
	require.NoError(t, err)
	assert.Equal(t, "BUG-1", views[0].ID)
}

func TestAlerting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.report(t, models.PriorityLow)
	routed := h.report(t, models.PriorityLow)
	_, err := h.engine.AssignTeam(ctx, routed.ID, "web", lead)
	require.NoError(t, err)

	h.clock.Advance(150 * time.Minute)
	fresh := h.report(t, models.PriorityLow)

	views, err := h.engine.Alerting(ctx, admin)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "BUG-1", views[0].ID)
	assert.Equal(t, alert.High, views[0].Alerts.Unassigned)
	assert.NotEqual(t, fresh.ID, views[0].ID)
}

func TestAlerting_CriticalAwaitingClosure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.report(t, models.PriorityCritical)
	_, err := h.engine.AssignTeam(ctx, b.ID, "payments", lead)
	require.NoError(t, err)
	h.walk(t, b, models.StatusReadyForClosure)

	h.clock.Advance(2 * time.Hour)
	views, err := h.engine.Alerting(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, views)

	h.clock.Advance(time.Minute)
	views, err = h.engine.Alerting(ctx, admin)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, alert.High, views[0].Alerts.CriticalClosure)
	assert.Equal(t, alert.None, views[0].Alerts.Stale)
}

func TestBugView_JSON(t *testing.T) {
	h := newHarness(t)
	b := h.report(t, models.PriorityHigh)
	v, err := h.engine.View(context.Background(), b, dev)
	require.NoError(t, err)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "BUG-1", m["bugId"])
	assert.Equal(t, false, m["favorite"])
	assert.Equal(t, map[string]any{"unassigned": "NONE", "stale": "NONE", "criticalClosure": "NONE"}, m["alerts"])
}
