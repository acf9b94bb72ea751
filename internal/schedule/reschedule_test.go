package schedule

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workcal/internal/model"
)

func TestRescheduleNoConflicts(t *testing.T) {
	second := event("second", at(2, 13, 0), at(2, 14, 0))
	first := event("first", at(2, 9, 0), at(2, 10, 0))

	res, err := Reschedule([]model.Event{second, first}, Config{})
	require.NoError(t, err)

	assert.Equal(t, []model.Event{first, second}, res.Events)
	assert.Equal(t, 2, res.Kept)
	assert.Empty(t, res.Relocations)
}

func TestRescheduleOverlapResolution(t *testing.T) {
	a := event("A", at(2, 9, 0), at(2, 10, 10))
	b := event("B", at(2, 10, 0), at(2, 11, 10))

	res, err := Reschedule([]model.Event{a, b}, Config{})
	require.NoError(t, err)

	require.Len(t, res.Events, 2)
	assert.Equal(t, a, res.Events[0])
	assert.Equal(t, event("B", at(2, 10, 10), at(2, 11, 20)), res.Events[1])
	require.Len(t, res.Relocations, 1)
	assert.True(t, res.Relocations[0].Moved())
	assert.Equal(t, b, res.Relocations[0].From)
}

func TestRescheduleCrossDayOverflow(t *testing.T) {
	res, err := Reschedule([]model.Event{
		event("meeting", at(2, 16, 0), at(2, 17, 10)),
		event("review", at(2, 16, 30), at(2, 17, 40)),
	}, Config{})
	require.NoError(t, err)

	assert.Equal(t, event("review", at(3, 9, 0), at(3, 10, 10)), res.Events[1])
}

func TestRescheduleFridayOverflow(t *testing.T) {
	res, err := Reschedule([]model.Event{
		event("meeting", at(3, 16, 0), at(3, 17, 10)),
		event("review", at(3, 17, 30), at(3, 18, 40)),
	}, Config{})
	require.NoError(t, err)

	assert.Equal(t, event("review", at(6, 9, 0), at(6, 10, 10)), res.Events[1])
}

func TestRescheduleFreeDayPriority(t *testing.T) {
	res, err := Reschedule([]model.Event{
		event("mon", at(6, 9, 0), at(6, 17, 30)),
		event("thu", at(9, 9, 0), at(9, 17, 30)),
		event("x", at(6, 16, 0), at(6, 18, 0)),
	}, Config{})
	require.NoError(t, err)

	assert.Equal(t, []string{"mon", "x", "thu"}, names(res.Events))
	assert.Equal(t, event("x", at(7, 9, 0), at(7, 11, 0)), res.Events[1])
}

func TestRescheduleRelocationOrder(t *testing.T) {
	// Both displaced events want the 10:00 gap; the earlier-starting one
	// is placed first and takes it.
	res, err := Reschedule([]model.Event{
		event("a", at(2, 9, 0), at(2, 10, 0)),
		event("b", at(2, 11, 0), at(2, 12, 0)),
		event("late", at(2, 9, 40), at(2, 10, 40)),
		event("early", at(2, 9, 30), at(2, 10, 30)),
	}, Config{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "early", "b", "late"}, names(res.Events))
	assert.Equal(t, at(2, 10, 0), res.Events[1].Start)
	assert.Equal(t, at(2, 12, 0), res.Events[3].Start)
	assert.Equal(t, "early", res.Relocations[0].From.Name)
}

func TestRescheduleAllOutOfHours(t *testing.T) {
	res, err := Reschedule([]model.Event{
		event("sat", at(4, 10, 0), at(4, 11, 0)),
		event("night", at(2, 20, 0), at(2, 21, 0)),
	}, Config{})
	require.NoError(t, err)

	require.NoError(t, Verify(res.Events))
	assert.Equal(t, event("night", at(3, 9, 0), at(3, 10, 0)), res.Events[0])
	assert.Equal(t, event("sat", at(3, 10, 0), at(3, 11, 0)), res.Events[1])
}

func TestRescheduleExceedsBusinessDay(t *testing.T) {
	_, err := Reschedule([]model.Event{
		event("offsite", at(2, 8, 0), at(2, 18, 0)),
	}, Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExceedsBusinessDay))
}

func TestRescheduleEmpty(t *testing.T) {
	res, err := Reschedule(nil, Config{})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestVerify(t *testing.T) {
	assert.NoError(t, Verify([]model.Event{
		event("a", at(2, 9, 0), at(2, 10, 0)),
		event("b", at(2, 10, 0), at(2, 11, 0)),
	}))
	assert.Error(t, Verify([]model.Event{
		event("a", at(2, 9, 0), at(2, 10, 30)),
		event("b", at(2, 10, 0), at(2, 11, 0)),
	}))
	assert.Error(t, Verify([]model.Event{
		event("b", at(2, 10, 0), at(2, 11, 0)),
		event("a", at(2, 9, 0), at(2, 9, 30)),
	}))
	assert.Error(t, Verify([]model.Event{event("sat", at(4, 10, 0), at(4, 11, 0))}))
}

func randomEvents(rng *rand.Rand, n int) []model.Event {
	base := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)
	events := make([]model.Event, 0, n)
	for i := range n {
		// 5-minute grid over three weeks, 15 minutes to 9 hours long
		start := base.Add(time.Duration(rng.IntN(21*24*12)) * 5 * time.Minute)
		d := time.Duration(3+rng.IntN(106)) * 5 * time.Minute
		events = append(events, model.Event{
			UID:   string(rune('a' + i%26)),
			Name:  start.Format(time.RFC3339),
			Start: start,
			End:   start.Add(d),
		})
	}
	return events
}

func TestRescheduleProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	for round := range 200 {
		events := randomEvents(rng, 1+rng.IntN(30))

		res, err := Reschedule(events, Config{TieBreak: TieBreak(round % 2)})
		require.NoError(t, err)
		require.Len(t, res.Events, len(events))
		require.NoError(t, Verify(res.Events), "round %d", round)

		// durations and names survive relocation
		for _, r := range res.Relocations {
			assert.Equal(t, r.From.Duration(), r.To.Duration())
			assert.Equal(t, r.From.Name, r.To.Name)
		}
		assert.Equal(t, len(events), res.Kept+len(res.Relocations))

		again, err := Reschedule(res.Events, Config{})
		require.NoError(t, err)
		assert.Equal(t, res.Events, again.Events, "round %d is not idempotent", round)
		assert.Empty(t, again.Relocations)
	}
}
