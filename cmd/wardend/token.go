package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/auth"
	"github.com/HyphaGroup/warden/internal/config"
	"github.com/HyphaGroup/warden/internal/journal"
)

// cmdToken handles the 'token' subcommand for managing API tokens.
func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create":
		tokenCreate(args[1:])
	case "list":
		tokenList(args[1:])
	case "revoke":
		tokenRevoke(args[1:])
	case "help", "-h", "--help":
		printTokenUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown token command: %s\n", args[0])
		printTokenUsage()
		os.Exit(1)
	}
}

func printTokenUsage() {
	fmt.Println(`Token Management

Usage: wardend token <command> [options]

Commands:
  create    Create a new API token
  list      List tokens
  revoke    Revoke a token
  help      Show this help

Examples:
  wardend token create --name "ci"
  wardend token create --name "laptop" --expires 720h
  wardend token list
  wardend token revoke tok_a1b2c3d4`)
}

// openTokenStore resolves the data directory from the configuration the
// daemon would load, so the CLI and the daemon always share one database.
func openTokenStore(configPath string) (*auth.Store, *config.Config) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	store, err := auth.Open(filepath.Join(filepath.Dir(cfg.Journal.Path), "auth.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening token store: %v\n", err)
		os.Exit(1)
	}
	return store, cfg
}

// auditToken appends a token event to the shared trail. Token management
// happens in this CLI rather than the daemon, so the CLI writes the event.
func auditToken(cfg *config.Config, op audit.Operation, tokenID string) {
	if !cfg.Audit.Enabled {
		return
	}
	trail, err := audit.Open(cfg.Audit.Path, cfg.Audit.MaxSizeMB, nil)
	if err != nil {
		return
	}
	trail.Append(audit.Event{
		Operation: op,
		Origin:    journal.OriginCLI,
		TokenID:   tokenID,
		Success:   true,
	})
	_ = trail.Close()
}

func tokenCreate(args []string) {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	name := fs.String("name", "", "Human-readable token name (required)")
	expires := fs.Duration("expires", 0, "Lifetime before the token expires (0 means never)")
	configPath := fs.String("config", "", "Path to warden.jsonc")
	_ = fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: --name is required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	store, cfg := openTokenStore(*configPath)
	defer func() { _ = store.Close() }()

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().UTC().Add(*expires)
		expiresAt = &t
	}

	token, secret, err := store.Create(*name, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token: %v\n", err)
		os.Exit(1)
	}
	auditToken(cfg, audit.OpTokenCreate, token.ID)

	fmt.Println("Token created.")
	fmt.Println()
	fmt.Printf("ID:      %s\n", token.ID)
	fmt.Printf("Name:    %s\n", token.Name)
	if token.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", token.ExpiresAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	fmt.Printf("Secret:  %s\n", secret)
	fmt.Println()
	fmt.Println("IMPORTANT: Save the secret now. It cannot be retrieved later.")
}

func tokenList(args []string) {
	fs := flag.NewFlagSet("token list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to warden.jsonc")
	_ = fs.Parse(args)

	store, _ := openTokenStore(*configPath)
	defer func() { _ = store.Close() }()

	tokens, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tokens: %v\n", err)
		os.Exit(1)
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens found.")
		fmt.Println()
		fmt.Println("Create one with: wardend token create --name \"My Token\"")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED\tEXPIRES")
	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
		}
		expiry := "never"
		if t.ExpiresAt != nil {
			expiry = t.ExpiresAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, t.CreatedAt.Format("2006-01-02 15:04"), lastUsed, expiry)
	}
	_ = w.Flush()
}

func tokenRevoke(args []string) {
	fs := flag.NewFlagSet("token revoke", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to warden.jsonc")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: token ID required")
		fmt.Fprintln(os.Stderr, "Usage: wardend token revoke <token_id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	store, cfg := openTokenStore(*configPath)
	defer func() { _ = store.Close() }()

	if err := store.Revoke(id); err != nil {
		fmt.Fprintf(os.Stderr, "Error revoking token: %v\n", err)
		os.Exit(1)
	}
	auditToken(cfg, audit.OpTokenRevoke, id)

	fmt.Printf("Token %s revoked.\n", id)
}
