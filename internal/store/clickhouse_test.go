package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rafalwronapl/moltbook-observatory/pkg/kafka"
)

func TestThreadColumns(t *testing.T) {
	trigger := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	id, at := threadColumns(nil)
	assert.Empty(t, id)
	assert.Nil(t, at)

	id, at = threadColumns(&kafka.ThreadRef{ThreadID: "t-1"})
	assert.Equal(t, "t-1", id)
	assert.Nil(t, at, "zero trigger time maps to NULL")

	id, at = threadColumns(&kafka.ThreadRef{ThreadID: "t-2", TriggerAt: trigger})
	assert.Equal(t, "t-2", id)
	if assert.NotNil(t, at) {
		assert.True(t, at.Equal(trigger))
	}
}

func TestThreadRefRoundTrip(t *testing.T) {
	trigger := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Nil(t, threadRef("", nil))

	ref := threadRef("t-1", nil)
	if assert.NotNil(t, ref) {
		assert.Equal(t, "t-1", ref.ThreadID)
		assert.True(t, ref.TriggerAt.IsZero())
	}

	ref = threadRef("t-2", &trigger)
	if assert.NotNil(t, ref) {
		assert.True(t, ref.TriggerAt.Equal(trigger))
	}
}
