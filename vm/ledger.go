package vm

import (
	"fmt"
	"math"

	"github.com/tolelom/tolsettle/core"
)

// Debit removes amount of an asset from address. An empty contract means
// the native currency.
func Debit(st core.State, contract, address string, amount uint64) error {
	if contract == "" {
		acc, err := st.GetAccount(address)
		if err != nil {
			return err
		}
		if acc.Balance < amount {
			return fmt.Errorf("have %d need %d: %w", acc.Balance, amount, core.ErrInsufficientBalance)
		}
		acc.Balance -= amount
		return st.SetAccount(acc)
	}
	bal, err := st.GetTokenBalance(contract, address)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%s: have %d need %d: %w", contract, bal, amount, core.ErrInsufficientBalance)
	}
	return st.SetTokenBalance(contract, address, bal-amount)
}

// Credit adds amount of an asset to address.
func Credit(st core.State, contract, address string, amount uint64) error {
	if contract == "" {
		acc, err := st.GetAccount(address)
		if err != nil {
			return err
		}
		if acc.Balance > math.MaxUint64-amount {
			return fmt.Errorf("balance overflow: %w", core.ErrInvalidParams)
		}
		acc.Balance += amount
		return st.SetAccount(acc)
	}
	bal, err := st.GetTokenBalance(contract, address)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("%s balance overflow: %w", contract, core.ErrInvalidParams)
	}
	return st.SetTokenBalance(contract, address, bal+amount)
}

// Transfer moves amount of an asset between two addresses.
func Transfer(st core.State, contract, from, to string, amount uint64) error {
	if err := Debit(st, contract, from, amount); err != nil {
		return err
	}
	return Credit(st, contract, to, amount)
}
