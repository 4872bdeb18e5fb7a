package db

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunMigrateCommand handles the 'migrate' subcommand. in is read for the
// confirmation prompt of 'force'.
func RunMigrateCommand(args []string, dbPath string, in io.Reader, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without running migrations; the action decides what happens.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return handleMigrateUp(database, out)
	case "down":
		return handleMigrateDown(database, out)
	case "status":
		return handleMigrateStatus(database, out)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: autolink migrate force <version_number>")
		}
		return handleMigrateForce(database, args[1], in, out)
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func handleMigrateUp(database *DB, out io.Writer) error {
	if err := database.MigrateUp(); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion()
	fmt.Fprintf(out, "✓ All migrations applied. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateDown(database *DB, out io.Writer) error {
	if err := database.MigrateDown(); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion()
	fmt.Fprintf(out, "✓ Migration rolled back. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the journal, then run:")
		fmt.Fprintln(out, "  autolink migrate force <version>")
	}
	return nil
}

// handleMigrateForce sets the version after an interactive confirmation.
func handleMigrateForce(database *DB, versionStr string, in io.Reader, out io.Writer) error {
	forceVersion, err := strconv.Atoi(versionStr)
	if err != nil {
		return fmt.Errorf("invalid version number: %s", versionStr)
	}

	fmt.Fprintf(out, "⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Fprintln(out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(out, "Continue? [y/N]: ")

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(response)
	if response != "y" && response != "Y" {
		fmt.Fprintln(out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(forceVersion); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Migration version forced to %d\n", forceVersion)
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: autolink migrate <action> [args]

Actions:
  up                 Apply all pending journal migrations
  down               Roll back the most recent migration
  status             Show the current migration version
  force <version>    Force the version (recovery from a dirty state)
  help               Show this help

Use --db to select the journal file.
`)
}
