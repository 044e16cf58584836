// Package es provides unit-of-work scoped aggregate repositories with
// event-sourced and state-based storage drivers.
//
// # Aggregates
//
// Aggregates embed [BaseAggregate] and route events through a static
// [EventHandlers] map built once per type:
//
//	var accountHandlers = es.NewEventHandlers(
//	    es.On(func(a *Account, e *Deposited) error { a.Balance += e.Amount; return nil }),
//	)
//
//	type Account struct {
//	    es.BaseAggregate[string]
//	    Balance int `json:"balance"`
//	}
//
//	func (a *Account) GetAggType() string    { return "account" }
//	func (a *Account) Apply(event any) error { return accountHandlers.Apply(a, event) }
//
//	func (a *Account) Deposit(amount int) error {
//	    return es.RaiseAndApply(a, &Deposited{Amount: amount})
//	}
//
// # Repositories
//
// A [Repository] is an identity map plus change tracker bound to one unit of
// work (see package uow). Reads go through [Repository.GetByKey], new
// aggregates are tracked with [Repository.Add] and deletions with
// [Repository.RemoveByKey]. Nothing is written until the owner scope
// completes and the repository is flushed:
//
//	err := uow.Do(ctx, func(ctx context.Context) error {
//	    repo, err := es.RepositoryFor(ctx, driver)
//	    if err != nil {
//	        return err
//	    }
//	    acc, err := repo.GetByKey(ctx, "acc-1")
//	    if err != nil {
//	        return err
//	    }
//	    return acc.Deposit(10)
//	})
//
// # Drivers
//
// Storage sits behind [Driver]. [EventSourcedDriver] appends events to an
// [EventStore] and rebuilds aggregates with [Reconstruct] from the latest
// [Snapshot] plus the events after it. [MemoryDriver] stores encoded state.
// Drivers implementing [Transactor] flush all writes of a repository in one
// transaction.
//
// # Concurrency Control
//
// Updates carry the version the aggregate had when it was loaded. A driver
// that finds a different stored version rejects the write and the flush fails
// with a [ConcurrencyConflictError]. Nothing is retried; start a new unit of
// work with fresh reads.
package es
