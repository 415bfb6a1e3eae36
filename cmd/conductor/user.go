package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/services/auth"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

// Exit codes for the user subcommand.
const (
	exitOK      = 0
	exitFailure = 1
	exitRefused = 2
)

const userUsage = `Usage:
  conductor user add NAME [--role ROLE] [--dir DIR]
  conductor user remove NAME [--force] [--dir DIR]
  conductor user show NAME [--json] [--dir DIR]
  conductor user role NAME ROLE [--dir DIR]
`

// runUserCommand manages accounts against the database directly, without a
// running server. It must not run while the server holds the database lock.
func runUserCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, userUsage)
		return exitFailure
	}

	verb := args[0]
	fs := flag.NewFlagSet("user "+verb, flag.ExitOnError)
	dir := fs.String("dir", ".", "Data directory")
	role := fs.String("role", string(models.RoleUser), "Account role (guest, user, operator)")
	force := fs.Bool("force", false, "Skip the confirmation prompt")
	asJSON := fs.Bool("json", false, "Print the account as JSON")

	rest := args[1:]
	var positional []string
	for len(rest) > 0 && rest[0] != "" && rest[0][0] != '-' {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return exitFailure
	}
	if len(positional) == 0 {
		fmt.Fprint(os.Stderr, userUsage)
		return exitFailure
	}
	name := positional[0]

	logger := common.GetLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(*dir, "db"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	authService := auth.NewService(store, logger)
	ctx := context.Background()

	switch verb {
	case "add":
		return userAdd(ctx, authService, name, models.UserRole(*role))
	case "remove":
		return userRemove(ctx, authService, name, *force)
	case "show":
		return userShow(ctx, authService, name, *asJSON)
	case "role":
		if len(positional) < 2 {
			fmt.Fprintln(os.Stderr, "role requires NAME and ROLE")
			return exitFailure
		}
		return userRole(ctx, authService, name, models.UserRole(positional[1]))
	default:
		fmt.Fprint(os.Stderr, userUsage)
		return exitFailure
	}
}

func userAdd(ctx context.Context, authService interfaces.AuthService, name string, role models.UserRole) int {
	if !role.IsValid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		return exitFailure
	}
	user, resetSecret, err := authService.AddUser(ctx, name, role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to add user: %v\n", err)
		return exitFailure
	}
	fmt.Printf("Created account %q with role %s\n", user.Name, user.Role)
	fmt.Printf("Password reset secret (hand this to the user, shown once): %s\n", resetSecret)
	return exitOK
}

func userRemove(ctx context.Context, authService interfaces.AuthService, name string, force bool) int {
	if _, err := authService.GetUser(ctx, name); err != nil {
		fmt.Fprintf(os.Stderr, "no such user %q\n", name)
		return exitFailure
	}
	if !force {
		fmt.Fprintf(os.Stderr, "refusing to remove %q without --force\n", name)
		return exitRefused
	}
	if err := authService.RemoveUser(ctx, name); err != nil {
		fmt.Fprintf(os.Stderr, "failed to remove user: %v\n", err)
		return exitFailure
	}
	fmt.Printf("Removed account %q\n", name)
	return exitOK
}

func userShow(ctx context.Context, authService interfaces.AuthService, name string, asJSON bool) int {
	user, err := authService.GetUser(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no such user %q\n", name)
		return exitFailure
	}
	if asJSON {
		data, err := json.MarshalIndent(user, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode user: %v\n", err)
			return exitFailure
		}
		fmt.Println(string(data))
		return exitOK
	}
	fmt.Printf("Name:    %s\n", user.Name)
	fmt.Printf("Role:    %s\n", user.Role)
	fmt.Printf("Created: %s\n", user.CreatedAt.Format("2006-01-02 15:04:05"))
	return exitOK
}

func userRole(ctx context.Context, authService interfaces.AuthService, name string, role models.UserRole) int {
	if !role.IsValid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		return exitFailure
	}
	if err := authService.SetRole(ctx, name, role); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set role: %v\n", err)
		return exitFailure
	}
	fmt.Printf("Account %q now has role %s\n", name, role)
	return exitOK
}
