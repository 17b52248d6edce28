package call

import (
	"context"
	"time"

	"github.com/1ureka/duocall/internal/history"
	"github.com/1ureka/duocall/internal/util"
)

// Recorder persists finished calls. *history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// endReason is what sent the call back to Idle.
type endReason int

const (
	endLocal          endReason = iota // LeaveCall
	endLocalRejected                   // RejectCall
	endRemoteRejected                  // call.rejected
	endRemoteEnded                     // call.ended
	endFailed
)

func outcomeOf(prev session, reason endReason) history.Outcome {
	switch {
	case reason == endFailed:
		return history.OutcomeFailed
	case !prev.connectedAt.IsZero():
		return history.OutcomeCompleted
	case reason == endLocalRejected, reason == endRemoteRejected:
		return history.OutcomeRejected
	case prev.phase == Ringing && reason == endRemoteEnded:
		return history.OutcomeMissed
	case prev.phase == Ringing:
		return history.OutcomeRejected
	}
	return history.OutcomeCancelled
}

func (c *Coordinator) record(prev session, reason endReason) {
	if c.rec == nil || prev.peer.ID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.rec.Record(ctx, history.Entry{
		PeerID:      prev.peer.ID,
		PeerName:    prev.peer.DisplayName,
		Outgoing:    prev.dir == Outgoing,
		IsVideo:     prev.isVideo,
		Outcome:     outcomeOf(prev, reason),
		StartedAt:   prev.startedAt,
		ConnectedAt: prev.connectedAt,
		Duration:    prev.duration,
	})
	if err != nil {
		util.LogWarning("failed to record call history: %v", err)
	}
}
