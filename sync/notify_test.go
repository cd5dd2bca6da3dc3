package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"davsync/internal/ical"
	"davsync/store"
)

func eventData(start time.Time, location string, attendees ...string) *ical.EventData {
	return &ical.EventData{
		UID:       "e1",
		Start:     start,
		End:       start.Add(time.Hour),
		Location:  location,
		Attendees: attendees,
	}
}

func TestDefaultNotifyPolicy(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		old  *ical.EventData
		cur  *ical.EventData
		want store.NotifyPolicy
	}{
		{
			name: "no attendees stays quiet",
			old:  eventData(base, "Room 1"),
			cur:  eventData(base.Add(time.Hour), "Room 2"),
			want: store.NotifyNone,
		},
		{
			name: "new event with attendees invites everyone",
			cur:  eventData(base, "Room 1", "bob@example.com"),
			want: store.NotifyAll,
		},
		{
			name: "moved start notifies everyone",
			old:  eventData(base, "Room 1", "bob@example.com"),
			cur:  eventData(base.Add(time.Hour), "Room 1", "bob@example.com"),
			want: store.NotifyAll,
		},
		{
			name: "changed location notifies everyone",
			old:  eventData(base, "Room 1", "bob@example.com"),
			cur:  eventData(base, "Room 2", "bob@example.com"),
			want: store.NotifyAll,
		},
		{
			name: "attendee added notifies only the delta",
			old:  eventData(base, "Room 1", "bob@example.com"),
			cur:  eventData(base, "Room 1", "bob@example.com", "carol@example.com"),
			want: store.NotifyChanged,
		},
		{
			name: "attendee removed notifies only the delta",
			old:  eventData(base, "Room 1", "bob@example.com", "carol@example.com"),
			cur:  eventData(base, "Room 1", "bob@example.com"),
			want: store.NotifyChanged,
		},
		{
			name: "cosmetic edit stays quiet",
			old:  eventData(base, "Room 1", "bob@example.com"),
			cur:  eventData(base, "Room 1", "bob@example.com"),
			want: store.NotifyNone,
		},
		{
			name: "cancellation with attendees always notifies",
			old:  eventData(base, "Room 1", "bob@example.com"),
			want: store.NotifyAll,
		},
		{
			name: "cancellation without attendees stays quiet",
			old:  eventData(base, "Room 1"),
			want: store.NotifyNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultNotifyPolicy(tt.old, tt.cur))
		})
	}
}

func TestSchedulingMode(t *testing.T) {
	assert.Equal(t, ical.ScheduleAll, schedulingMode(store.NotifyAll))
	assert.Equal(t, ical.ScheduleChanged, schedulingMode(store.NotifyChanged))
	assert.Equal(t, ical.ScheduleNone, schedulingMode(store.NotifyNone))
}
