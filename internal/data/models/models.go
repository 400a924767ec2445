package models

import (
	"time"

	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
)

type Node struct {
	Name       string             `json:"name"`
	Status     nltypes.NodeStatus `json:"status"`
	Holder     string             `json:"holder,omitempty"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Attributes map[string]any     `json:"attributes,omitempty"`
	Version    int64              `json:"version"`
}

// Clone returns a copy that shares no mutable state with n.
func (n Node) Clone() Node {
	out := n
	if n.ExpiresAt != nil {
		expiresAt := *n.ExpiresAt
		out.ExpiresAt = &expiresAt
	}
	out.Attributes = cloneAttributes(n.Attributes)
	return out
}

func (n Node) IsReserved() bool {
	return n.Status == nltypes.NodeStatusReserved
}

func cloneAttributes(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneAttributes(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

type Event struct {
	ID         string            `json:"id"`
	Type       nltypes.EventType `json:"type"`
	Node       string            `json:"node,omitempty"`
	Holder     string            `json:"holder,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Count      int               `json:"count,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type PublishResult struct {
	MessageID string
}

type IdempotencyRecord struct {
	RequestHash  string `json:"request_hash"`
	StatusCode   int    `json:"status_code"`
	ResponseBody []byte `json:"response_body"`
	ContentType  string `json:"content_type"`
}
