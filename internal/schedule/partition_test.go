package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"workcal/internal/model"
)

func names(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}

func TestPartitionFirstComeFirstServed(t *testing.T) {
	events := []model.Event{
		event("late", at(2, 15, 0), at(2, 16, 0)),
		event("early", at(2, 9, 0), at(2, 10, 10)),
		event("clash", at(2, 10, 0), at(2, 11, 10)),
		event("weekend", at(4, 10, 0), at(4, 11, 0)),
		event("night", at(2, 20, 0), at(2, 21, 0)),
	}

	accepted, displaced := Partition(events, nil)

	// arrival order, not sorted by start
	assert.Equal(t, []string{"late", "early"}, names(accepted))
	assert.Equal(t, []string{"clash", "weekend", "night"}, names(displaced))
}

func TestPartitionDoesNotModifyInput(t *testing.T) {
	events := []model.Event{
		event("b", at(2, 10, 0), at(2, 11, 10)),
		event("a", at(2, 9, 0), at(2, 10, 10)),
	}
	_, _ = Partition(events, EarliestStartFirst)
	assert.Equal(t, []string{"b", "a"}, names(events))
}

func TestPartitionPriority(t *testing.T) {
	events := []model.Event{
		event("second", at(2, 10, 0), at(2, 11, 10)),
		event("first", at(2, 9, 0), at(2, 10, 10)),
	}

	accepted, displaced := Partition(events, ArrivalOrder)
	assert.Equal(t, []string{"second"}, names(accepted))
	assert.Equal(t, []string{"first"}, names(displaced))

	accepted, displaced = Partition(events, EarliestStartFirst)
	assert.Equal(t, []string{"first"}, names(accepted))
	assert.Equal(t, []string{"second"}, names(displaced))
}

func TestParsePriorityAndTieBreak(t *testing.T) {
	_, err := ParsePriority("earliest-start")
	assert.NoError(t, err)
	_, err = ParsePriority("random")
	assert.Error(t, err)

	tb, err := ParseTieBreak("Nearest-First")
	assert.NoError(t, err)
	assert.Equal(t, NearestFirst, tb)
	tb, err = ParseTieBreak("")
	assert.NoError(t, err)
	assert.Equal(t, FreeDayFirst, tb)
	_, err = ParseTieBreak("latest")
	assert.Error(t, err)
	assert.Equal(t, "nearest-first", NearestFirst.String())
}
