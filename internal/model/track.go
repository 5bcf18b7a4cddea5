package model

import "time"

// Open is a single recorded open event for a tracked email.
type Open struct {
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
}

// Track is the backend's record of one tracked send. The CLI only ever
// creates these (register) and reads them (status/dashboard); opens are
// appended by the backend when the marker is fetched.
type Track struct {
	TrackingID string    `json:"trackingId"`
	Recipient  string    `json:"recipientEmail"`
	Subject    string    `json:"emailSubject"`
	OpenCount  int       `json:"openCount"`
	Opens      []Open    `json:"opens"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DashboardStats is the aggregate view returned alongside recent tracks.
type DashboardStats struct {
	TotalSent   int     `json:"totalSent"`
	TotalOpened int     `json:"totalOpened"`
	OpenRate    float64 `json:"openRate"`
}

// Dashboard bundles aggregate stats with an ordered page of recent tracks,
// newest first.
type Dashboard struct {
	Stats  DashboardStats `json:"stats"`
	Tracks []Track        `json:"tracks"`
}
