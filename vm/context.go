package vm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block and the triggering transaction. Events raised by the
// handler are held until the transaction succeeds.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	Params *core.Params

	result  map[string]any
	emitted []events.Event
}

// Height is the protocol clock: the height of the block being executed.
func (c *Context) Height() int64 {
	return c.Block.Header.Height
}

// Caller is the transaction sender's account.
func (c *Context) Caller() string {
	return c.Tx.From
}

// RequireAdmin fails with ErrUnauthorized unless the caller is the admin.
func (c *Context) RequireAdmin() error {
	if c.Params == nil || c.Params.Admin == "" || c.Params.Admin != c.Tx.From {
		return fmt.Errorf("%s requires admin: %w", c.Tx.Type, core.ErrUnauthorized)
	}
	return nil
}

// ActsFor reports whether the caller may act on behalf of player: either it
// is the player or an enabled relay.
func (c *Context) ActsFor(player string) (bool, error) {
	if c.Tx.From == player {
		return true, nil
	}
	relay, err := c.State.GetRelay(c.Tx.From)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load relay: %w", err)
	}
	return relay.Enabled, nil
}

// SetResult attaches a value to the transaction's receipt.
func (c *Context) SetResult(key string, v any) {
	if c.result == nil {
		c.result = make(map[string]any)
	}
	c.result[key] = v
}

// Emit queues an event stamped with the current tx and height. The events
// are dropped if the handler fails.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.emitted = append(c.emitted, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Height(),
		Data:        data,
	})
}

// Decode unmarshals a handler payload, mapping malformed input to
// ErrInvalidParams.
func Decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, core.ErrInvalidParams)
	}
	return nil
}

// Session loads a session, mapping a missing one to ErrSessionNotFound.
func (c *Context) Session(id uint64) (*core.Session, error) {
	sess, err := c.State.GetSession(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("session %d: %w", id, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	return sess, nil
}
