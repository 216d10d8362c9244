package workflow

import (
	"context"
	"sort"

	"github.com/joescharf/bugflow/internal/alert"
	"github.com/joescharf/bugflow/internal/favorite"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/store"
)

// BugView is a bug as presented to a user: its alerts at read time and
// whether the user favorited it.
type BugView struct {
	*models.Bug
	Alerts   alert.Alerts `json:"alerts"`
	Favorite bool         `json:"favorite"`
}

// View decorates a single bug for actor.
func (e *Engine) View(ctx context.Context, b *models.Bug, actor models.ActingUser) (BugView, error) {
	favs, err := e.favoriteSet(ctx, actor)
	if err != nil {
		return BugView{}, err
	}
	return BugView{
		Bug:      b,
		Alerts:   alert.Evaluate(e.clock.Now(), b, e.Policy().Thresholds),
		Favorite: favs.Has(b.ID),
	}, nil
}

// Board lists bugs for actor with alerts evaluated at the current time and
// the actor's favorites ordered first.
func (e *Engine) Board(ctx context.Context, filter store.BugListFilter, actor models.ActingUser) ([]BugView, error) {
	bugs, err := e.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	favs, err := e.favoriteSet(ctx, actor)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	th := e.Policy().Thresholds
	ordered := favorite.OrderForDisplay(bugs, favs)
	views := make([]BugView, len(ordered))
	for i, b := range ordered {
		views[i] = BugView{Bug: b, Alerts: alert.Evaluate(now, b, th), Favorite: favs.Has(b.ID)}
	}
	return views, nil
}

// Alerting returns the live bugs with at least one alert, highest level first.
func (e *Engine) Alerting(ctx context.Context, actor models.ActingUser) ([]BugView, error) {
	views, err := e.Board(ctx, store.BugListFilter{Active: true}, actor)
	if err != nil {
		return nil, err
	}
	out := views[:0]
	for _, v := range views {
		if v.Alerts.Any() {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Alerts.Max() > out[j].Alerts.Max()
	})
	return out, nil
}

func (e *Engine) favoriteSet(ctx context.Context, actor models.ActingUser) (favorite.Set, error) {
	if actor.Email == "" {
		return favorite.Set{}, nil
	}
	ids, err := e.Favorites(ctx, actor)
	if err != nil {
		return nil, err
	}
	return favorite.NewSet(ids), nil
}
