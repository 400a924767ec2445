// Package lease holds the node lease state machine. Every store backend
// applies these functions inside its own atomic read-modify-write, so the
// expiry predicate exists exactly once.
package lease

import (
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
)

// IsExpired reports whether node holds a lease whose deadline is at or before now.
// A reserved node without a deadline violates the record invariant and is treated as expired.
func IsExpired(node models.Node, now time.Time) bool {
	if node.Status != nltypes.NodeStatusReserved {
		return false
	}
	return node.ExpiresAt == nil || !node.ExpiresAt.After(now)
}

// Reconcile frees node when its lease has expired. The returned bool is true
// when the record changed and must be written back.
func Reconcile(node models.Node, now time.Time) (models.Node, bool) {
	if !IsExpired(node, now) {
		return node, false
	}
	return Free(node, now), true
}

// New builds the initial record for a freshly registered node.
func New(name string, attributes map[string]any, now time.Time) models.Node {
	return models.Node{
		Name:       name,
		Status:     nltypes.NodeStatusAvailable,
		UpdatedAt:  now.UTC(),
		Attributes: models.Node{Attributes: attributes}.Clone().Attributes,
		Version:    1,
	}
}

// Grant moves an available node to reserved. Expired leases are reconciled
// first, then availability is checked, then the deadline.
func Grant(node models.Node, holder string, expiresAt, now time.Time) (models.Node, error) {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return models.Node{}, nlerrors.InvalidRequest("holder is required")
	}
	current, _ := Reconcile(node, now)
	if current.Status != nltypes.NodeStatusAvailable {
		return models.Node{}, nlerrors.ErrAlreadyReserved
	}
	if err := ValidateDeadline(expiresAt, now); err != nil {
		return models.Node{}, err
	}

	updated := current.Clone()
	deadline := expiresAt.UTC()
	updated.Status = nltypes.NodeStatusReserved
	updated.Holder = holder
	updated.ExpiresAt = &deadline
	updated.UpdatedAt = touch(current.UpdatedAt, now)
	updated.Version = current.Version + 1
	return updated, nil
}

// Free clears any lease on node. It is the single release transition used by
// explicit release, read-time reconciliation and sweep.
func Free(node models.Node, now time.Time) models.Node {
	updated := node.Clone()
	updated.Status = nltypes.NodeStatusAvailable
	updated.Holder = ""
	updated.ExpiresAt = nil
	updated.UpdatedAt = touch(node.UpdatedAt, now)
	updated.Version = node.Version + 1
	return updated
}

// ValidateDeadline rejects deadlines that are not strictly after now.
func ValidateDeadline(expiresAt, now time.Time) error {
	if expiresAt.IsZero() {
		return nlerrors.InvalidDeadline("deadline is required")
	}
	if !expiresAt.After(now) {
		return nlerrors.InvalidDeadline("deadline %s is not in the future", expiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// updated_at never moves backwards, even if the clock does.
func touch(previous, now time.Time) time.Time {
	now = now.UTC()
	if now.Before(previous) {
		return previous.UTC()
	}
	return now
}
