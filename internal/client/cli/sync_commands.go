package cli

import (
	"context"

	"github.com/iudanet/growlog/internal/client/sync"
)

func (c *Cli) runSync(ctx context.Context) error {
	session, err := c.requireSession(ctx)
	if err != nil {
		return err
	}

	report, err := c.syncService.Sync(ctx)
	if err != nil {
		return err
	}

	c.io.Println("Sync completed")
	c.io.Printf("  pulled:    %d\n", report.Pulled)
	c.io.Printf("  pushed:    %d\n", report.Pushed)
	c.io.Printf("  conflicts: %d\n", report.Conflicts)
	c.io.Printf("  failed:    %d\n", report.Failed)

	purged, err := c.syncService.PurgeTombstones(ctx, session.UserID, sync.DefaultTombstoneRetention)
	if err != nil {
		return err
	}
	if purged > 0 {
		c.io.Printf("  purged tombstones: %d\n", purged)
	}
	return nil
}

func (c *Cli) runOutbox(ctx context.Context) error {
	failed, err := c.outboxSvc.Failed(ctx)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		c.io.Println("Outbox: no failed entries")
		return nil
	}

	c.io.Printf("Failed outbox entries: %d\n", len(failed))
	for _, entry := range failed {
		c.io.Printf("  %s  %s/%s  op=%s retries=%d error=%s\n",
			entry.ID, entry.Table, entry.RecordID, entry.Operation, entry.Retries, entry.LastError)
	}
	return nil
}
