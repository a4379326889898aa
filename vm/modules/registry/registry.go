// Package registry holds the admin-gated registries: trusted result
// attestors, game modules, relays and the maintenance switch.
package registry

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/vm"
)

// MaxNameLen bounds display names of servers and game modules.
const MaxNameLen = 64

func init() {
	vm.Register(core.TxSetTrustedServer, handleSetTrustedServer)
	vm.Register(core.TxRegisterGameModule, handleRegisterGameModule)
	vm.Register(core.TxSetRelay, handleSetRelay)
	vm.Register(core.TxSetMaintenance, handleSetMaintenance, vm.AllowInMaintenance())
}

func handleSetTrustedServer(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.SetTrustedServerPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	pub, err := crypto.CompressedPubKeyFromHex(p.PublicKey)
	if err != nil {
		return fmt.Errorf("public_key: %v: %w", err, core.ErrInvalidParams)
	}
	if len(p.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d bytes: %w", MaxNameLen, core.ErrInvalidParams)
	}

	srv := &core.TrustedServer{
		PublicKey: pub.Hex(),
		Enabled:   p.Enabled,
		Name:      p.Name,
		UpdatedAt: ctx.Height(),
	}
	if err := ctx.State.SetTrustedServer(srv); err != nil {
		return err
	}
	ctx.Emit(events.EventTrustedServerSet, map[string]any{
		"public_key": srv.PublicKey,
		"enabled":    srv.Enabled,
		"name":       srv.Name,
	})
	return nil
}

func handleRegisterGameModule(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.RegisterGameModulePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("game module id required: %w", core.ErrInvalidParams)
	}
	if len(p.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d bytes: %w", MaxNameLen, core.ErrInvalidParams)
	}
	if p.MinScore > p.MaxScore {
		return fmt.Errorf("min_score %d > max_score %d: %w", p.MinScore, p.MaxScore, core.ErrInvalidParams)
	}

	g := &core.GameModule{
		ID:            p.ID,
		Name:          p.Name,
		OwnerContract: p.OwnerContract,
		MinScore:      p.MinScore,
		MaxScore:      p.MaxScore,
		Enabled:       p.Enabled == nil || *p.Enabled,
	}
	if err := ctx.State.SetGameModule(g); err != nil {
		return err
	}
	ctx.Emit(events.EventGameModuleSet, map[string]any{
		"id":        g.ID,
		"min_score": g.MinScore,
		"max_score": g.MaxScore,
		"enabled":   g.Enabled,
	})
	return nil
}

func handleSetRelay(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.SetRelayPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if _, err := crypto.PubKeyFromHex(p.Address); err != nil {
		return fmt.Errorf("relay address: %v: %w", err, core.ErrInvalidParams)
	}
	if err := ctx.State.SetRelay(&core.Relay{Address: p.Address, Enabled: p.Enabled}); err != nil {
		return err
	}
	ctx.Emit(events.EventRelaySet, map[string]any{"address": p.Address, "enabled": p.Enabled})
	return nil
}

func handleSetMaintenance(ctx *vm.Context, payload json.RawMessage) error {
	if err := ctx.RequireAdmin(); err != nil {
		return err
	}
	var p core.SetMaintenancePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	params := *ctx.Params
	params.Maintenance = p.Enabled
	if err := ctx.State.SetParams(&params); err != nil {
		return err
	}
	ctx.Emit(events.EventMaintenanceSet, map[string]any{"enabled": p.Enabled})
	return nil
}
