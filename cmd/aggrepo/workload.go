package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/internal/config"
)

const initialBalance = 1000

type stats struct {
	ok        atomic.Int64
	rejected  atomic.Int64
	conflicts atomic.Int64
	partial   atomic.Int64
}

func (s *stats) logAttrs() []any {
	return []any{
		slog.Int64("ok", s.ok.Load()),
		slog.Int64("rejected", s.rejected.Load()),
		slog.Int64("conflicts", s.conflicts.Load()),
		slog.Int64("partial", s.partial.Load()),
	}
}

func accountID(i int) string { return fmt.Sprintf("acc-%03d", i) }

// runWorkload opens the accounts and issues random commands against them.
// Transfers keep the sum of all balances unchanged; deposits and withdrawals
// are tracked, so the final sum is checked.
func runWorkload(ctx context.Context, b *bank, cfg config.WorkloadConfig, log *slog.Logger) (*stats, error) {
	st := &stats{}
	b.conflicts = func() { st.conflicts.Add(1) }

	ids := make([]string, cfg.Accounts)
	for i := range ids {
		ids[i] = accountID(i)
		err := b.Open(ctx, ids[i], fmt.Sprintf("owner-%d", i), initialBalance)
		if err != nil && !errors.Is(err, es.ErrDuplicateKey) {
			return nil, fmt.Errorf("open %s: %w", ids[i], err)
		}
	}

	var before int64
	for _, id := range ids {
		bal, err := b.Balance(ctx, id)
		if err != nil {
			return nil, err
		}
		before += bal
	}

	var delta atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for range cfg.Commands {
		g.Go(func() error {
			id := ids[rand.IntN(len(ids))]
			amount := rand.Int64N(100) + 1
			var err error
			switch p := rand.IntN(100); {
			case p < 45:
				if err = b.Deposit(gctx, id, amount); err == nil {
					delta.Add(amount)
				}
			case p < 85 || len(ids) < 2:
				if err = b.Withdraw(gctx, id, amount); err == nil {
					delta.Add(-amount)
				}
			default:
				to := ids[rand.IntN(len(ids))]
				for to == id {
					to = ids[rand.IntN(len(ids))]
				}
				err = b.Transfer(gctx, id, to, amount)
				// Without transactions the withdrawal can be stored while the
				// deposit lost its update.
				var partial *es.PartialFlushError
				if errors.As(err, &partial) {
					st.partial.Add(1)
					delta.Add(-amount)
					log.Warn("transfer partially stored", slog.String("from", id), slog.String("to", to), slog.Any("error", err))
					return nil
				}
			}
			switch {
			case err == nil:
				st.ok.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
				st.rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	var after int64
	for _, id := range ids {
		bal, err := b.Balance(ctx, id)
		if err != nil {
			return st, err
		}
		log.Debug("balance", slog.String("account", id), slog.Int64("balance", bal))
		after += bal
	}
	if want := before + delta.Load(); after != want {
		return st, fmt.Errorf("balance mismatch: have %d, want %d", after, want)
	}

	log.Info("workload done", append(st.logAttrs(), slog.Int64("total", after))...)
	return st, nil
}
