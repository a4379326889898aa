// Package dispute lets anyone challenge a finalized session within the
// dispute window and the admin resolve the challenge.
package dispute

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/vm"
	"github.com/tolelom/tolsettle/vm/modules/reward"
)

// MaxReasonLen bounds the free-form reason attached to a dispute.
const MaxReasonLen = 512

func init() {
	vm.Register(core.TxOpenDispute, handleOpenDispute)
	vm.Register(core.TxResolveDispute, handleResolveDispute)
}

// WithinWindow reports whether a dispute opened at height now is in time for a
// session finalized at endHeight. The boundary itself is inside the window.
func WithinWindow(now, endHeight, window int64) bool {
	return now-endHeight <= window
}

func handleOpenDispute(ctx *vm.Context, payload json.RawMessage) error {
	var p core.OpenDisputePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if len(p.Reason) > MaxReasonLen {
		return fmt.Errorf("reason exceeds %d bytes: %w", MaxReasonLen, core.ErrInvalidParams)
	}
	sess, err := ctx.Session(p.SessionID)
	if err != nil {
		return err
	}
	if sess.Status != core.SessionFinalized {
		return fmt.Errorf("session %d is %s: %w", sess.ID, sess.Status, core.ErrSessionClosed)
	}
	if !WithinWindow(ctx.Height(), sess.EndHeight, ctx.Params.DisputeWindow) {
		return fmt.Errorf("session %d finalized at %d, window %d, now %d: %w",
			sess.ID, sess.EndHeight, ctx.Params.DisputeWindow, ctx.Height(), core.ErrDisputeWindowExpired)
	}

	d := &core.Dispute{
		SessionID: sess.ID,
		Reason:    p.Reason,
		OpenedBy:  ctx.Caller(),
		OpenedAt:  ctx.Height(),
	}
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}
	sess.Status = core.SessionDisputed
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}
	ctx.Emit(events.EventDisputeOpened, map[string]any{
		"session_id": sess.ID,
		"opened_by":  d.OpenedBy,
	})
	return nil
}

// handleResolveDispute closes a dispute. A reversed result voids the pending
// reward if it is still unclaimed; stats already applied are kept.
func handleResolveDispute(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.ResolveDisputePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	sess, err := ctx.State.GetSession(p.SessionID)
	if err != nil {
		return fmt.Errorf("session %d: %v: %w", p.SessionID, err, core.ErrInvalidParams)
	}
	if sess.Status != core.SessionDisputed {
		return fmt.Errorf("session %d is %s, not disputed: %w", sess.ID, sess.Status, core.ErrInvalidParams)
	}
	d, err := ctx.State.GetDispute(sess.ID)
	if err != nil {
		return fmt.Errorf("load dispute %d: %w", sess.ID, err)
	}

	upheld := p.Upheld
	d.Resolved = true
	d.Upheld = &upheld
	d.ResolvedAt = ctx.Height()
	if err := ctx.State.SetDispute(d); err != nil {
		return err
	}
	sess.Status = core.SessionResolved
	sess.Upheld = &upheld
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}

	var voided *core.PendingReward
	if !upheld {
		r, refunded, err := reward.Void(ctx.State, sess.ID, ctx.Height())
		if err != nil {
			return err
		}
		if refunded {
			voided = r
		}
	}

	ctx.Emit(events.EventDisputeResolved, map[string]any{
		"session_id": sess.ID,
		"upheld":     upheld,
	})
	if voided != nil {
		ctx.Emit(events.EventRewardVoided, map[string]any{
			"session_id": voided.SessionID,
			"funder":     voided.Funder,
			"amount":     voided.Amount,
		})
	}
	return nil
}
