package domain

import "fmt"

// Defaults applied to alarm tool results with missing fields.
const (
	DefaultAlarmTime  = "00:00"
	DefaultAlarmLabel = "Alarm"
)

// AlarmRequest is an alarm as requested by the backend, before time resolution.
type AlarmRequest struct {
	Time  string `json:"time"`
	Label string `json:"label"`
}

// ScheduledAlarm is an alarm handed to the device after time resolution.
// Weekday uses the device convention Sunday=1 .. Saturday=7; zero means the
// alarm does not repeat.
type ScheduledAlarm struct {
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Weekday int    `json:"weekday,omitempty"`
	Label   string `json:"label"`
}

// Clock renders the alarm time as HH:MM.
func (a ScheduledAlarm) Clock() string {
	return fmt.Sprintf("%02d:%02d", a.Hour, a.Minute)
}
