package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runRegister(ctx context.Context) error {
	c.io.Println("=== Register ===")

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := c.authService.Register(ctx, username, password); err != nil {
		return err
	}

	c.io.Println("Registration successful, run 'growlog login' to sign in")
	return nil
}

func (c *Cli) runLogin(ctx context.Context) error {
	c.io.Println("=== Login ===")

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}
	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	session, err := c.authService.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println("Login successful")
	c.io.Printf("Username: %s\n", session.Username)
	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.authService.Logout(ctx); err != nil {
		return err
	}
	c.io.Println("Logged out")
	return nil
}

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")

	session, valid, err := c.authService.Session(ctx)
	switch {
	case err != nil:
		c.io.Println("Session: none (offline mode)")
	case !valid:
		c.io.Printf("Session: expired (user %s)\n", session.Username)
	default:
		c.io.Printf("Session: active (user %s)\n", session.Username)
	}

	lastPulled, err := c.metadata.GetLastPulledAt(ctx)
	if err != nil {
		return err
	}
	if lastPulled == 0 {
		c.io.Println("Last pull: never")
	} else {
		c.io.Printf("Last pull: %d\n", lastPulled)
	}

	failed, err := c.outboxSvc.Failed(ctx)
	if err != nil {
		return err
	}
	c.io.Printf("Failed outbox entries: %d\n", len(failed))
	return nil
}
