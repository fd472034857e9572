// Command personactl is the operator CLI from spec.md §6.4: database-schema
// initialization, api-key generation, and starting the server. Grounded on
// cmd/sqvect/main.go's cobra root-command-plus-subcommands shape.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/personamemory/internal/apikey"
	"github.com/corvid-labs/personamemory/internal/config"
	"github.com/corvid-labs/personamemory/internal/logx"
	"github.com/corvid-labs/personamemory/internal/metastore"
)

// Exit codes per spec.md §6.4.
const (
	exitSuccess         = 0
	exitValidationError = 1
	exitRuntimeFailure  = 2
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "personactl",
	Short: "Operator CLI for the persona memory engine",
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the metadata database schema",
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the metadata database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := metastore.Open(ctx, dbPath)
		if err != nil {
			return validationErr(err)
		}
		defer store.Close()
		fmt.Printf("schema initialized at %s\n", dbPath)
		return nil
	},
}

var (
	keyName        string
	keyPermissions string
	keyRateLimit   int
	keyExpiresDays int
	keyInteractive bool
	keySaltRounds  int
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage api keys",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new api key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyInteractive {
			promptInteractive()
		}
		if strings.TrimSpace(keyName) == "" {
			return validationErr(fmt.Errorf("--name is required"))
		}

		var perms []apikey.Permission
		for _, p := range strings.Split(keyPermissions, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			perm := apikey.Permission(p)
			if !apikey.ValidPermission(perm) {
				return validationErr(fmt.Errorf("unknown permission %q", p))
			}
			perms = append(perms, perm)
		}
		if len(perms) == 0 {
			return validationErr(fmt.Errorf("--permissions must name at least one scope"))
		}
		if keyRateLimit <= 0 {
			return validationErr(fmt.Errorf("--rate-limit must be positive"))
		}

		ctx := context.Background()
		meta, err := metastore.Open(ctx, dbPath)
		if err != nil {
			return runtimeErr(err)
		}
		defer meta.Close()

		id := meta.NextID()
		plaintext, hash, err := apikey.Generate(id, keySaltRounds)
		if err != nil {
			return runtimeErr(err)
		}

		var expiresAt *time.Time
		if keyExpiresDays > 0 {
			t := time.Now().AddDate(0, 0, keyExpiresDays)
			expiresAt = &t
		}

		if err := meta.PutApiKey(ctx, metastore.ApiKeyRecord{
			ID:          id,
			Name:        keyName,
			Hash:        hash,
			Permissions: permStrings(perms),
			RateLimit:   keyRateLimit,
			ExpiresAt:   expiresAt,
			CreatedAt:   time.Now(),
		}); err != nil {
			return runtimeErr(err)
		}
		_ = meta.RecordAudit(ctx, id, "apikey.generate", keyName)

		fmt.Printf("id:          %s\n", id)
		fmt.Printf("name:        %s\n", keyName)
		fmt.Printf("permissions: %s\n", strings.Join(permStrings(perms), ","))
		fmt.Printf("rate limit:  %d req/min\n", keyRateLimit)
		if expiresAt != nil {
			fmt.Printf("expires:     %s\n", expiresAt.Format(time.RFC3339))
		} else {
			fmt.Println("expires:     never")
		}
		fmt.Printf("secret:      %s\n", plaintext)
		fmt.Printf("hash:        %s\n", hash)
		fmt.Println("Store the secret now; it cannot be recovered from the database.")
		return nil
	},
}

func permStrings(perms []apikey.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func promptInteractive() {
	reader := func(prompt string) string {
		fmt.Print(prompt)
		var line string
		fmt.Scanln(&line)
		return line
	}
	if keyName == "" {
		keyName = reader("name: ")
	}
	if keyPermissions == "" {
		keyPermissions = reader("permissions (comma-separated): ")
	}
	if keyRateLimit == 0 {
		if v := reader("rate limit (req/min): "); v != "" {
			keyRateLimit, _ = strconv.Atoi(v)
		}
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the persona memory HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return validationErr(err)
		}
		log := logx.NewStd(logx.ParseLevel(cfg.LogLevel))
		log.Info("starting server", "addr", ":8080")
		return runtimeErr(runServer(cfg, dbPath, log))
	},
}

func validationErr(err error) error {
	return cliError{code: exitValidationError, err: err}
}

func runtimeErr(err error) error {
	if err == nil {
		return nil
	}
	return cliError{code: exitRuntimeFailure, err: err}
}

// cliError carries the exit code main() should use, since cobra's RunE only
// communicates failure via a non-nil error.
type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "persona.db", "path to the metadata database file")

	schemaCmd.AddCommand(schemaInitCmd)

	apikeyGenerateCmd.Flags().StringVar(&keyName, "name", "", "human-readable label for the key")
	apikeyGenerateCmd.Flags().StringVar(&keyPermissions, "permissions", "", "comma-separated scopes")
	apikeyGenerateCmd.Flags().IntVar(&keyRateLimit, "rate-limit", 60, "requests per minute")
	apikeyGenerateCmd.Flags().IntVar(&keyExpiresDays, "expires-in-days", 0, "0 means never expires")
	apikeyGenerateCmd.Flags().BoolVar(&keyInteractive, "interactive", false, "prompt for missing fields")
	apikeyGenerateCmd.Flags().IntVar(&keySaltRounds, "salt-rounds", 12, "hash cost factor")
	apikeyCmd.AddCommand(apikeyGenerateCmd)

	rootCmd.AddCommand(schemaCmd, apikeyCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if ce, ok := err.(cliError); ok {
			fmt.Fprintln(os.Stderr, "error:", ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitValidationError)
	}
}
