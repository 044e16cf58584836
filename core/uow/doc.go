// Package uow provides unit-of-work scopes for message handling.
//
// A unit of work collects the changes made while handling one logical operation
// (one command, one message) and flushes them exactly once when the outermost
// scope completes. The current unit of work travels on the [context.Context]:
//
//	ctx, scope := uow.Begin(ctx)
//	defer scope.Close()
//
//	acc, err := accounts.GetByKey(ctx, "acc-1") // enlists the repository
//	...
//	return scope.Complete(ctx) // flushes every enlisted repository, in enlistment order
//
// Nested calls to [Begin] on a context that already carries a unit of work join
// it instead of creating a new one. Only the scope that created the unit of work
// (the owner) flushes it; completing a joined scope only records that the inner
// operation succeeded. Closing a joined scope without completing it aborts the
// whole unit of work.
//
// [Do] wraps Begin/Complete/Close so the cleanup runs on every exit path:
//
//	err := uow.Do(ctx, func(ctx context.Context) error {
//	    acc, err := accounts.GetByKey(ctx, "acc-1")
//	    if err != nil {
//	        return err
//	    }
//	    return acc.Deposit(10)
//	})
//
// Besides the enlistment list, a unit of work carries an item cache for values
// whose lifetime is "one per unit of work" (see [Resolve]). Items implementing
// [io.Closer] are closed when the unit of work is disposed.
package uow
