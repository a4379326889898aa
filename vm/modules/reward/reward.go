// Package reward escrows rewards against settled sessions and pays them out
// exactly once.
package reward

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/vm"
)

func init() {
	vm.Register(core.TxSetupReward, handleSetupReward)
	vm.Register(core.TxClaimReward, handleClaimReward)
}

// handleSetupReward debits the admin and records the escrow. The session
// must currently stand: finalized, or resolved with the result upheld.
func handleSetupReward(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.SetupRewardPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("reward amount must be > 0: %w", core.ErrInvalidParams)
	}
	sess, err := ctx.Session(p.SessionID)
	if err != nil {
		return err
	}
	if !sess.Payable() {
		return fmt.Errorf("session %d is %s: %w", sess.ID, sess.Status, core.ErrSessionClosed)
	}
	if _, err := ctx.State.GetReward(sess.ID); err == nil {
		return fmt.Errorf("reward for session %d: %w", sess.ID, core.ErrAlreadyExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("load reward: %w", err)
	}

	if err := vm.Debit(ctx.State, p.TokenContract, ctx.Caller(), p.Amount); err != nil {
		return fmt.Errorf("fund reward: %w", err)
	}
	r := &core.PendingReward{
		SessionID:     sess.ID,
		Player:        sess.Player,
		TokenContract: p.TokenContract,
		Amount:        p.Amount,
		Funder:        ctx.Caller(),
		CreatedAt:     ctx.Height(),
	}
	if err := ctx.State.SetReward(r); err != nil {
		return err
	}
	ctx.Emit(events.EventRewardSetup, map[string]any{
		"session_id":     r.SessionID,
		"player":         r.Player,
		"token_contract": r.TokenContract,
		"amount":         r.Amount,
	})
	return nil
}

func handleClaimReward(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ClaimRewardPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	sess, err := ctx.Session(p.SessionID)
	if err != nil {
		return err
	}
	if ctx.Caller() != sess.Player {
		return fmt.Errorf("only the session player may claim: %w", core.ErrUnauthorized)
	}
	r, err := ctx.State.GetReward(sess.ID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("session %d: %w", sess.ID, core.ErrRewardNotFound)
	}
	if err != nil {
		return fmt.Errorf("load reward: %w", err)
	}
	if r.Claimed {
		return fmt.Errorf("session %d: %w", sess.ID, core.ErrAlreadyClaimed)
	}
	if r.Voided || !sess.Payable() {
		return fmt.Errorf("session %d is %s: %w", sess.ID, sess.Status, core.ErrSessionClosed)
	}

	if err := vm.Credit(ctx.State, r.TokenContract, r.Player, r.Amount); err != nil {
		return err
	}
	r.Claimed = true
	r.SettledAt = ctx.Height()
	if err := ctx.State.SetReward(r); err != nil {
		return err
	}
	ctx.Emit(events.EventRewardClaimed, map[string]any{
		"session_id":     r.SessionID,
		"player":         r.Player,
		"token_contract": r.TokenContract,
		"amount":         r.Amount,
	})
	return nil
}

// Void cancels an unclaimed reward and refunds its funder. Missing, claimed
// and already voided rewards are left as they are; it reports whether a
// refund happened.
func Void(st core.State, sessionID uint64, height int64) (*core.PendingReward, bool, error) {
	r, err := st.GetReward(sessionID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load reward: %w", err)
	}
	if r.Claimed || r.Voided {
		return r, false, nil
	}
	if err := vm.Credit(st, r.TokenContract, r.Funder, r.Amount); err != nil {
		return nil, false, fmt.Errorf("refund reward: %w", err)
	}
	r.Voided = true
	r.SettledAt = height
	if err := st.SetReward(r); err != nil {
		return nil, false, err
	}
	return r, true, nil
}
