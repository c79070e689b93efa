// Package visibility decides which messages a viewer may see.
package visibility

import "letschat/internal/models"

// Scope selects which partition of a viewer's conversations is being read.
type Scope int

const (
	// Normal is the default view; hidden peers are excluded.
	Normal Scope = iota
	// Hidden is the PIN-authenticated view; only hidden peers are admitted.
	Hidden
)

// Visible reports whether viewer may see msg in the given scope. Global
// deletion wins over per-viewer deletion. Blocks never hide history.
func Visible(msg models.Message, viewer models.User, scope Scope) bool {
	if msg.IsDeleted {
		return false
	}
	if msg.DeletedForUser(viewer.ID) {
		return false
	}
	return AdmitsPeer(viewer, msg.PeerOf(viewer.ID), scope)
}

// AdmitsPeer reports whether conversations with peerID belong to scope.
func AdmitsPeer(viewer models.User, peerID string, scope Scope) bool {
	return viewer.HidesPeer(peerID) == (scope == Hidden)
}

// Filter returns the messages of msgs visible to viewer, preserving order.
func Filter(msgs []models.Message, viewer models.User, scope Scope) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if Visible(msg, viewer, scope) {
			out = append(out, msg)
		}
	}
	return out
}
