package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/core/perkey"
	"github.com/codewandler/aggrepo-go/core/uow"
)

const maxAttempts = 5

// bank runs account commands. Each attempt is one unit of work; commands on
// the same account are serialized by the scheduler. A transfer touches two
// accounts and can still lose an update, so commands are retried on
// concurrency conflicts.
type bank struct {
	driver   es.Driver[*Account, string]
	sched    *perkey.Scheduler[string]
	repoOpts []es.RepositoryOption
	uowOpts  []uow.Option
	log      *slog.Logger

	// conflicts is called once per retried attempt.
	conflicts func()
}

func (b *bank) repo(ctx context.Context) (*es.Repository[*Account, string], error) {
	return es.RepositoryFor(ctx, b.driver, b.repoOpts...)
}

// exec runs fn in a fresh unit of work on the worker of key.
func (b *bank) exec(ctx context.Context, key string, fn func(ctx context.Context, repo *es.Repository[*Account, string]) error) error {
	return b.sched.DoContext(ctx, key, func(ctx context.Context) error {
		var err error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			err = uow.Do(ctx, func(ctx context.Context) error {
				repo, err := b.repo(ctx)
				if err != nil {
					return err
				}
				return fn(ctx, repo)
			}, b.uowOpts...)
			// A partial flush already changed storage; running the command
			// again would apply it twice.
			var partial *es.PartialFlushError
			if !errors.Is(err, es.ErrConcurrencyConflict) || errors.As(err, &partial) {
				return err
			}
			if b.conflicts != nil {
				b.conflicts()
			}
			b.log.Debug("retrying", slog.String("key", key), slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
	})
}

func (b *bank) Open(ctx context.Context, id, owner string, initialBalance int64) error {
	return b.exec(ctx, id, func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		a, err := OpenAccount(id, owner, initialBalance)
		if err != nil {
			return err
		}
		return repo.Add(ctx, a)
	})
}

func (b *bank) Deposit(ctx context.Context, id string, amount int64) error {
	return b.exec(ctx, id, func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		a, err := repo.GetByKey(ctx, id)
		if err != nil {
			return err
		}
		return a.Deposit(amount)
	})
}

func (b *bank) Withdraw(ctx context.Context, id string, amount int64) error {
	return b.exec(ctx, id, func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		a, err := repo.GetByKey(ctx, id)
		if err != nil {
			return err
		}
		return a.Withdraw(amount)
	})
}

// Transfer moves amount in one unit of work, so both accounts are written by
// the same flush.
func (b *bank) Transfer(ctx context.Context, from, to string, amount int64) error {
	if from == to {
		return errors.New("transfer to the same account")
	}
	return b.exec(ctx, from, func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		src, err := repo.GetByKey(ctx, from)
		if err != nil {
			return err
		}
		dst, err := repo.GetByKey(ctx, to)
		if err != nil {
			return err
		}
		if err := src.Withdraw(amount); err != nil {
			return err
		}
		return dst.Deposit(amount)
	})
}

// Close removes an account whose balance is zero.
func (b *bank) Close(ctx context.Context, id string) error {
	return b.exec(ctx, id, func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		a, err := repo.GetByKey(ctx, id)
		if err != nil {
			return err
		}
		if a.Balance != 0 {
			return fmt.Errorf("account %s has balance %d", id, a.Balance)
		}
		return repo.RemoveByKey(ctx, id)
	})
}

// Balance reads an account. Nothing is written since the account is not
// modified.
func (b *bank) Balance(ctx context.Context, id string) (balance int64, err error) {
	err = b.exec(ctx, id, func(ctx context.Context, repo *es.Repository[*Account, string]) error {
		a, err := repo.GetByKey(ctx, id)
		if err != nil {
			return err
		}
		balance = a.Balance
		return nil
	})
	return balance, err
}
