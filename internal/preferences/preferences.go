package preferences

import (
	"fmt"
	"time"
)

// Channels toggles each notification delivery channel
type Channels struct {
	InApp bool `json:"inApp"`
	Push  bool `json:"push"`
	Email bool `json:"email"`
}

// Channel names accepted by ToggleChannel
const (
	ChannelInApp = "inApp"
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// QuietHours is a daily window during which nudges must not be surfaced.
// Start and End are "HH:MM" strings; the window may wrap past midnight.
type QuietHours struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

// Integrations toggles external service hookups
type Integrations struct {
	GoogleCalendar bool `json:"googleCalendar"`
	GoogleTasks    bool `json:"googleTasks"`
}

// Integration names accepted by ToggleIntegration
const (
	IntegrationGoogleCalendar = "googleCalendar"
	IntegrationGoogleTasks    = "googleTasks"
)

// Preferences is the full user-configurable notification settings object.
// It is persisted as a single JSON blob with full-overwrite semantics.
type Preferences struct {
	NudgeFrequency       int          `json:"nudgeFrequency"`
	NotificationChannels Channels     `json:"notificationChannels"`
	QuietHours           QuietHours   `json:"quietHours"`
	Integrations         Integrations `json:"integrations"`
}

// Frequency bounds
const (
	FrequencyMin = 1
	FrequencyMax = 5
)

// Default returns the documented default preferences
func Default() Preferences {
	return Preferences{
		NudgeFrequency: 3,
		NotificationChannels: Channels{
			InApp: true,
			Push:  true,
			Email: false,
		},
		QuietHours: QuietHours{
			Start:   "22:00",
			End:     "07:00",
			Enabled: true,
		},
		Integrations: Integrations{},
	}
}

// InQuietHours reports whether t falls inside the enabled quiet window.
// Non-wrapping ranges (start <= end) require start <= t < end; ranges that
// wrap past midnight use t >= start || t < end. An equal start and end is
// an empty window.
func (q QuietHours) InQuietHours(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := time.Parse("15:04", q.Start)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", q.End)
	if err != nil {
		return false
	}

	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	nowMin := t.Hour()*60 + t.Minute()

	switch {
	case startMin == endMin:
		return false
	case startMin < endMin:
		return nowMin >= startMin && nowMin < endMin
	default:
		return nowMin >= startMin || nowMin < endMin
	}
}

// validateClock rejects strings that do not parse as "HH:MM"
func validateClock(s string) error {
	if _, err := time.Parse("15:04", s); err != nil {
		return fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return nil
}
