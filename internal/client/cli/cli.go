package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/growlog/internal/client/auth"
	"github.com/iudanet/growlog/internal/client/data"
	"github.com/iudanet/growlog/internal/client/iocli"
	"github.com/iudanet/growlog/internal/client/outbox"
	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/client/sync"
)

// Cli связывает консольные команды с клиентскими сервисами
type Cli struct {
	io          iocli.IO
	authService *auth.Service
	dataService *data.Service
	syncService *sync.Service
	outboxSvc   *outbox.Service
	metadata    storage.MetadataStorage
}

func New(
	io iocli.IO,
	authService *auth.Service,
	dataService *data.Service,
	syncService *sync.Service,
	outboxSvc *outbox.Service,
	metadata storage.MetadataStorage,
) *Cli {
	return &Cli{
		io:          io,
		authService: authService,
		dataService: dataService,
		syncService: syncService,
		outboxSvc:   outboxSvc,
		metadata:    metadata,
	}
}

// Run executes a single CLI command
func (c *Cli) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return c.runRegister(ctx)
	case "login":
		return c.runLogin(ctx)
	case "logout":
		return c.runLogout(ctx)
	case "status":
		return c.runStatus(ctx)
	case "add":
		return c.runAdd(ctx, args)
	case "list":
		return c.runList(ctx, args)
	case "delete":
		return c.runDelete(ctx, args)
	case "sync":
		return c.runSync(ctx)
	case "outbox":
		return c.runOutbox(ctx)
	case "help", "":
		c.PrintUsage()
		return nil
	default:
		c.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// PrintUsage prints the command reference
func (c *Cli) PrintUsage() {
	c.io.Println("growlog - offline-first cultivation journal")
	c.io.Println("")
	c.io.Println("Usage: growlog <command> [arguments]")
	c.io.Println("")
	c.io.Println("Commands:")
	c.io.Println("  register                 create a new account")
	c.io.Println("  login                    authenticate on this device")
	c.io.Println("  logout                   remove the stored session")
	c.io.Println("  status                   show session and sync state")
	c.io.Println("  add <table>              add a record (plant, journal, harvest, inventory)")
	c.io.Println("  list <table>             list records of a table")
	c.io.Println("  delete <table> <id>      delete a record")
	c.io.Println("  sync                     run a full sync cycle")
	c.io.Println("  outbox                   show failed outbox entries")
}

// currentOwner returns the user id of the active session, or empty
// string when working offline without a session
func (c *Cli) currentOwner(ctx context.Context) string {
	session, _, err := c.authService.Session(ctx)
	if err != nil {
		return ""
	}
	return session.UserID
}

// requireSession returns the stored session or a friendly error
func (c *Cli) requireSession(ctx context.Context) (*storage.Session, error) {
	session, valid, err := c.authService.Session(ctx)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, fmt.Errorf("not authenticated, run 'growlog login' first")
	}
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("session expired, run 'growlog login' again")
	}
	return session, nil
}
