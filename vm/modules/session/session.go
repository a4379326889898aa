// Package session implements the session lifecycle handlers: starting a
// session and settling it with an attested result.
package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolsettle/attest"
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/progression"
	"github.com/tolelom/tolsettle/vm"
)

func init() {
	vm.Register(core.TxStartSession, handleStartSession)
	vm.Register(core.TxReportResult, handleReportResult)
}

func handleStartSession(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StartSessionPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if _, err := crypto.PubKeyFromHex(p.Player); err != nil {
		return fmt.Errorf("player: %v: %w", err, core.ErrInvalidParams)
	}
	ok, err := ctx.ActsFor(p.Player)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caller may not start sessions for %s: %w", p.Player, core.ErrUnauthorized)
	}
	if p.GameModuleID != "" {
		if _, err := loadModule(ctx, p.GameModuleID); err != nil {
			return err
		}
	}

	id, err := ctx.State.NextSessionID()
	if err != nil {
		return fmt.Errorf("allocate session id: %w", err)
	}
	sess := &core.Session{
		ID:           id,
		Player:       p.Player,
		GameModuleID: p.GameModuleID,
		NFTTokenID:   p.NFTTokenID,
		Status:       core.SessionOpen,
		StartHeight:  ctx.Height(),
	}
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}

	ctx.SetResult("session_id", id)
	ctx.Emit(events.EventSessionStarted, map[string]any{
		"session_id":     id,
		"player":         sess.Player,
		"game_module_id": sess.GameModuleID,
		"nft_token_id":   sess.NFTTokenID,
	})
	return nil
}

func handleReportResult(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ReportResultPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	sess, err := ctx.Session(p.SessionID)
	if err != nil {
		return err
	}
	ok, err := ctx.ActsFor(sess.Player)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("caller may not report for session %d: %w", sess.ID, core.ErrUnauthorized)
	}
	if sess.Status != core.SessionOpen {
		// A resubmission of the hash that settled the session is a replay,
		// anything else simply arrives too late.
		if d, derr := crypto.DigestFromHex(p.ResultHash); derr == nil {
			seen, err := ctx.State.IsResultProcessed(d.Hex())
			if err != nil {
				return fmt.Errorf("replay lookup: %w", err)
			}
			if seen {
				return fmt.Errorf("result %s already settled: %w", d.Hex(), core.ErrReplayDetected)
			}
		}
		return fmt.Errorf("session %d is %s: %w", sess.ID, sess.Status, core.ErrSessionClosed)
	}

	sub, err := attest.DecodeSubmission(&p, sess)
	if err != nil {
		return err
	}
	var module *core.GameModule
	if sess.GameModuleID != "" {
		if module, err = loadModule(ctx, sess.GameModuleID); err != nil {
			return err
		}
	}
	if err := attest.NewVerifier(ctx.State).Verify(sub, module); err != nil {
		return err
	}
	deltas, err := progression.DecodeMeta(sub.Meta)
	if err != nil {
		return err
	}

	hash := sub.Hash.Hex()
	if err := ctx.State.MarkResultProcessed(hash, sess.ID); err != nil {
		return err
	}
	sess.Status = core.SessionFinalized
	sess.EndHeight = ctx.Height()
	sess.ResultHash = hash
	sess.Score = sub.Score
	sess.ExpGained = sub.ExpGained
	sess.Attestor = sub.PublicKey.Hex()
	if err := ctx.State.SetSession(sess); err != nil {
		return err
	}
	update, err := progression.Apply(ctx.State, sess, deltas)
	if err != nil {
		return err
	}

	ctx.SetResult("result_hash", hash)
	ctx.SetResult("level", update.Player.Level)
	ctx.Emit(events.EventSessionFinalized, map[string]any{
		"session_id":  sess.ID,
		"player":      sess.Player,
		"result_hash": hash,
		"score":       sess.Score,
		"attestor":    sess.Attestor,
	})
	ctx.Emit(events.EventProgressionUpdate, map[string]any{
		"session_id": sess.ID,
		"update":     update,
	})
	return nil
}

func loadModule(ctx *vm.Context, id string) (*core.GameModule, error) {
	g, err := ctx.State.GetGameModule(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("game module %q not registered: %w", id, core.ErrInvalidParams)
	}
	if err != nil {
		return nil, fmt.Errorf("load game module %q: %w", id, err)
	}
	if !g.Enabled {
		return nil, fmt.Errorf("game module %q disabled: %w", id, core.ErrInvalidParams)
	}
	return g, nil
}
