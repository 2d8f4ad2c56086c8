package presence

// Status is the presence status reported for a community member.
type Status string

const (
	StatusActive    Status = "active"
	StatusBusy      Status = "busy"
	StatusIdle      Status = "idle"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

var onlineStatuses = map[Status]bool{
	StatusActive:    true,
	StatusBusy:      true,
	StatusIdle:      true,
	StatusInvisible: true,
	StatusOffline:   false,
}

// IsOnline reports whether status counts as online. Unknown values are offline.
func IsOnline(status Status) bool {
	return onlineStatuses[status]
}

// Statuses returns every defined status.
func Statuses() []Status {
	return []Status{StatusActive, StatusBusy, StatusIdle, StatusInvisible, StatusOffline}
}
