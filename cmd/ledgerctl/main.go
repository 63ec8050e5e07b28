package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/spf13/viper"
)

// errIncomplete marks a command that ran but did not fully succeed, such as
// an import with failed rows or an unbalanced account.
var errIncomplete = errors.New("incomplete")

func main() {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	config.BindEnv()
	viper.ReadInConfig()

	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(log, os.Args[2:])
	case "template":
		err = runTemplate(os.Args[2:])
	case "reconcile":
		err = runReconcile(log, os.Args[2:])
	case "hash-password":
		err = runHashPassword(os.Stdin, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if code := exitCode(err); code != 0 {
		if !errors.Is(err, errIncomplete) {
			log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		}
		os.Exit(code)
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errIncomplete):
		return 2
	default:
		return 1
	}
}

func printUsage() {
	fmt.Println("Ledger admin CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  ledgerctl <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import         Validate and commit a CSV or JSON transaction file")
	fmt.Println("  template       Write the CSV import template")
	fmt.Println("  reconcile      Compare an account balance with its transaction sum")
	fmt.Println("  hash-password  Hash a password read from stdin for the users table")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nRun 'ledgerctl <command> -h' for more information on a command.")
}

func runImport(log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a .csv, .txt or .json file")
	defaultAccount := fs.Int64("default-account", 0, "Account id for rows without account_id")
	confirm := fs.Bool("confirm", false, "Confirm rows above the step-up threshold")
	dryRun := fs.Bool("dry-run", false, "Validate every row without writing")
	actor := fs.String("actor", "ledgerctl", "Actor recorded in the audit log")
	fs.Parse(args)

	if *filePath == "" {
		return errors.New("usage: ledgerctl import -file PATH [-default-account ID] [-confirm] [-dry-run]")
	}

	format, err := services.DetectFormat(*filePath)
	if err != nil {
		return err
	}
	f, err := os.Open(*filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	rows, err := services.ParseImport(bufio.NewReader(f), format)
	if err != nil {
		return fmt.Errorf("parse file: %w", err)
	}

	cfg := config.LoadLedgerConfig()
	ctx := logger.WithContext(context.Background(), log)

	store, closeStore, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := services.NewImportService(store, cfg, audit.NewLogger(log), log)
	opts := services.ImportOptions{DefaultAccountID: *defaultAccount, Confirmed: *confirm, Actor: *actor}

	if *dryRun {
		report, err := svc.ValidateRows(ctx, rows, opts)
		if err != nil {
			return fmt.Errorf("validation aborted: %w", err)
		}
		printRowErrors(report.Errors)
		if !report.Valid() {
			fmt.Printf("Validation failed: %d errors found in %d rows\n", len(report.Errors), report.Total)
			return errIncomplete
		}
		fmt.Printf("All %d rows are valid. Nothing was written.\n", report.Total)
		return nil
	}

	start := time.Now()
	result, err := svc.Run(ctx, rows, opts, func(current, total int) {
		fmt.Printf("\rImporting %d/%d", current, total)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("import rejected: %w", err)
	}

	printRowErrors(result.Errors)
	fmt.Printf("%s (%s)\n", result.Message, time.Since(start).Round(time.Millisecond))
	if !result.Success {
		return errIncomplete
	}
	return nil
}

func runTemplate(args []string) error {
	fs := flag.NewFlagSet("template", flag.ExitOnError)
	out := fs.String("out", "", "Output path (defaults to stdout)")
	fs.Parse(args)

	if *out == "" {
		_, err := os.Stdout.Write(services.ImportTemplate())
		return err
	}
	if err := os.WriteFile(filepath.Clean(*out), services.ImportTemplate(), 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	fmt.Printf("Template written to %s\n", *out)
	return nil
}

func runReconcile(log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	accountID := fs.Int64("account", 0, "Account id")
	fs.Parse(args)

	if *accountID <= 0 {
		return errors.New("usage: ledgerctl reconcile -account ID")
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger := services.NewLedgerService(store, config.LoadLedgerConfig(), nil, audit.NewLogger(log), log)
	balance, sum, err := ledger.Reconcile(ctx, *accountID)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"account_id":      *accountID,
		"balance":         balance,
		"transaction_sum": sum,
		"balanced":        balance.Equal(sum),
	}, "", "  ")
	fmt.Println(string(out))
	if !balance.Equal(sum) {
		return errIncomplete
	}
	return nil
}

func runHashPassword(in io.Reader, args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	fs.Parse(args)

	line, _ := bufio.NewReader(in).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("usage: echo PASSWORD | ledgerctl hash-password")
	}

	hashed, err := services.HashPassword(password, config.LoadArgon2Params())
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Println(hashed)
	return nil
}

func openStore(ctx context.Context, log zerolog.Logger) (repository.Store, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := database.InitDB(connectCtx, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return repository.NewPostgresStore(db), func() { db.Close() }, nil
}

func printRowErrors(errs []models.RowError) {
	for _, e := range errs {
		if e.Field != "" {
			fmt.Printf("  row %d [%s] %s: %s\n", e.Row, e.Code, e.Field, e.Message)
		} else {
			fmt.Printf("  row %d [%s] %s\n", e.Row, e.Code, e.Message)
		}
	}
}
