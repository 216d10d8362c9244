package favorite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/bugflow/internal/models"
)

func bugs(ids ...string) []*models.Bug {
	out := make([]*models.Bug, len(ids))
	for i, id := range ids {
		out[i] = &models.Bug{ID: id}
	}
	return out
}

func ids(bs []*models.Bug) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}

func TestOrderForDisplay(t *testing.T) {
	in := bugs("A", "B", "C", "D")
	got := OrderForDisplay(in, NewSet([]string{"B", "D"}))
	assert.Equal(t, []string{"B", "D", "A", "C"}, ids(got))
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(in), "input untouched")
}

func TestOrderForDisplay_Edges(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, ids(OrderForDisplay(bugs("A", "B"), nil)))
	assert.Equal(t, []string{"A", "B"}, ids(OrderForDisplay(bugs("A", "B"), NewSet([]string{"A", "B"}))))
	assert.Equal(t, []string{"A"}, ids(OrderForDisplay(bugs("A"), NewSet([]string{"Z"}))))
	assert.Empty(t, OrderForDisplay(nil, NewSet([]string{"A"})))
}
