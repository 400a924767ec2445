package api

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

type NodeView struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Holder     string         `json:"holder,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	ExpiresIn  string         `json:"expires_in,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type ListNodesResponse struct {
	Data []NodeView `json:"data"`
}

// ReserveNodeRequest carries the holder and exactly one deadline form.
// expires_at takes anything lease.ParseDeadline understands.
type ReserveNodeRequest struct {
	User          string   `json:"user"`
	ExpiresAt     *string  `json:"expires_at"`
	TTLSeconds    *float64 `json:"ttl_seconds"`
	DurationHours *float64 `json:"duration_hours"`
}

type SweepResponse struct {
	Released int `json:"released"`
}
