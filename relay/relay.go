// Package relay submits signed settlement transactions to a node and waits
// for their receipts. Transactions are signed once by the caller and resent
// verbatim; the relay never re-signs.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/rpc"
)

// Node is the subset of the RPC client the relay needs.
type Node interface {
	SendTx(ctx context.Context, tx *core.Transaction) (string, error)
	GetReceipt(ctx context.Context, txID string) (*core.Receipt, error)
}

var errPending = errors.New("receipt pending")

// Client retries submissions across transport failures.
type Client struct {
	node        Node
	newBackOff  func() backoff.BackOff
	pollBackOff func() backoff.BackOff
	log         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBackOff overrides the retry policy for submissions and receipt polling.
func WithBackOff(submit, poll func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = submit
		c.pollBackOff = poll
	}
}

// New returns a Client sending through node.
func New(node Node, opts ...Option) *Client {
	c := &Client{
		node: node,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		pollBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 3 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		log: slog.Default().With("component", "relay"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit sends tx until the node accepts it. A node that already holds the
// transaction counts as accepted. A rejection by the node is permanent.
func (c *Client) Submit(ctx context.Context, tx *core.Transaction) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		id, err := c.node.SendTx(ctx, tx)
		if err == nil {
			return id, nil
		}
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			if rpcErr.Code == rpc.CodeTxKnown {
				return tx.ID, nil
			}
			if rpcErr.Code != rpc.CodeRateLimited {
				return "", backoff.Permanent(err)
			}
		}
		c.log.Warn("submit failed, retrying", "tx", tx.ID, "attempt", attempt, "err", err)
		return "", err
	}
	id, err := backoff.RetryWithData(op, backoff.WithContext(c.newBackOff(), ctx))
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", tx.ID, err)
	}
	return id, nil
}

// WaitReceipt polls until the receipt for txID is available.
func (c *Client) WaitReceipt(ctx context.Context, txID string) (*core.Receipt, error) {
	op := func() (*core.Receipt, error) {
		r, err := c.node.GetReceipt(ctx, txID)
		if err != nil {
			var rpcErr *rpc.Error
			if errors.As(err, &rpcErr) && rpcErr.Code != rpc.CodeRateLimited {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if r == nil {
			return nil, errPending
		}
		return r, nil
	}
	r, err := backoff.RetryWithData(op, backoff.WithContext(c.pollBackOff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", txID, err)
	}
	return r, nil
}

// Settle submits tx and waits for its receipt. A failed receipt is returned
// together with the taxonomy error for its code, so callers can test it with
// errors.Is or core.Retryable.
func (c *Client) Settle(ctx context.Context, tx *core.Transaction) (*core.Receipt, error) {
	id, err := c.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	r, err := c.WaitReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	cause := r.Err()
	if cause == nil {
		return r, nil
	}
	if errors.Is(cause, core.ErrReplayDetected) {
		c.log.Info("result already settled", "tx", id)
	}
	return r, fmt.Errorf("tx %s failed: %w", id, cause)
}
