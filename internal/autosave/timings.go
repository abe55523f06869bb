package autosave

import "time"

// Timings controls debounce and submit timeouts for a Session.
// Zero durations other than NotificationGrace fall back to DefaultTimings.
type Timings struct {
	// AutoSaveDelay is the debounce applied by ScheduleAutoSave.
	AutoSaveDelay time.Duration
	// PollInterval and InFlightWait bound how long Submit waits for an earlier write.
	PollInterval time.Duration
	InFlightWait time.Duration
	// SubmitRace is the fast-path wait on the submit write; SubmitCeiling is the second, longer wait.
	SubmitRace    time.Duration
	SubmitCeiling time.Duration
	// NotificationGrace keeps isSaving set after the notification is raised. Zero disables it.
	NotificationGrace time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		AutoSaveDelay:     1500 * time.Millisecond,
		PollInterval:      50 * time.Millisecond,
		InFlightWait:      5000 * time.Millisecond,
		SubmitRace:        1200 * time.Millisecond,
		SubmitCeiling:     10000 * time.Millisecond,
		NotificationGrace: 400 * time.Millisecond,
	}
}

func (t Timings) withDefaults() Timings {
	def := DefaultTimings()
	if t.AutoSaveDelay <= 0 {
		t.AutoSaveDelay = def.AutoSaveDelay
	}
	if t.PollInterval <= 0 {
		t.PollInterval = def.PollInterval
	}
	if t.InFlightWait <= 0 {
		t.InFlightWait = def.InFlightWait
	}
	if t.SubmitRace <= 0 {
		t.SubmitRace = def.SubmitRace
	}
	if t.SubmitCeiling <= 0 {
		t.SubmitCeiling = def.SubmitCeiling
	}
	if t.NotificationGrace < 0 {
		t.NotificationGrace = 0
	}
	return t
}
