// Package coordinator runs the polling loop for every tracked student.
//
// It sits on top of sync.Manager and handles:
//
//   - The ticker loop, with an immediate first tick on start
//   - A tick guard: a tick that starts while another runs is dropped
//   - Session bootstrap and re-bootstrap after the session goes stale
//   - Listener notification after ticks that changed records
//   - Graceful shutdown
//
// # Core Interface
//
//	type Coordinator interface {
//	    Start(ctx context.Context) error
//	    Stop() error
//	    Bootstrap(ctx context.Context) error
//	    Tick(ctx context.Context, now time.Time) ([]string, error)
//	}
//
// # Usage Example
//
//	store := state.NewStore()
//	manager := sync.NewManager(client, tz)
//	bootstrapper := session.NewBootstrapper(client, tz)
//	c := coordinator.New(manager, bootstrapper, store, creds,
//	    coordinator.WithInterval(20*time.Second))
//
//	if err := c.Bootstrap(ctx); err != nil && session.IsFatal(err) {
//	    return err
//	}
//	go c.Start(ctx)
//	defer c.Stop()
//
// # Thread Safety
//
// Students are visited one at a time in id order and each merged record is
// swapped into the store whole, so concurrent readers never see a partial
// merge. Cancellation is checked between students.
package coordinator
