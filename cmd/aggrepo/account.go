package main

import (
	"errors"
	"fmt"

	"github.com/codewandler/aggrepo-go/core/es"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Account is an event-sourced bank account keyed by account id.
type Account struct {
	es.BaseAggregate[string]

	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

type (
	AccountOpened struct {
		Owner          string `json:"owner"`
		InitialBalance int64  `json:"initial_balance"`
	}
	MoneyDeposited struct {
		Amount int64 `json:"amount"`
	}
	MoneyWithdrawn struct {
		Amount int64 `json:"amount"`
	}
)

func (e AccountOpened) Validate() error {
	if e.Owner == "" {
		return errors.New("owner is empty")
	}
	if e.InitialBalance < 0 {
		return errors.New("initial balance is negative")
	}
	return nil
}

func (e MoneyDeposited) Validate() error { return positive(e.Amount) }
func (e MoneyWithdrawn) Validate() error { return positive(e.Amount) }

func positive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

var accountHandlers = es.NewEventHandlers(
	es.On(func(a *Account, e *AccountOpened) error {
		a.Owner, a.Balance = e.Owner, e.InitialBalance
		return nil
	}),
	es.On(func(a *Account, e *MoneyDeposited) error { a.Balance += e.Amount; return nil }),
	es.On(func(a *Account, e *MoneyWithdrawn) error { a.Balance -= e.Amount; return nil }),
)

func newAccount() *Account { return &Account{} }

// OpenAccount creates an account at version 2: created, then opened.
func OpenAccount(id, owner string, initialBalance int64) (*Account, error) {
	a := newAccount()
	if err := a.Create(id); err != nil {
		return nil, err
	}
	if err := es.RaiseAndApply(a, &AccountOpened{Owner: owner, InitialBalance: initialBalance}); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) GetAggType() string    { return "account" }
func (a *Account) Apply(event any) error { return accountHandlers.Apply(a, event) }

func (a *Account) Deposit(amount int64) error {
	return es.RaiseAndApply(a, &MoneyDeposited{Amount: amount})
}

func (a *Account) Withdraw(amount int64) error {
	if a.Balance < amount {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, a.Balance, amount)
	}
	return es.RaiseAndApply(a, &MoneyWithdrawn{Amount: amount})
}

var _ es.Aggregate[string] = (*Account)(nil)
