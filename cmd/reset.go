package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/jointscope/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetFiles   bool
	resetSession string
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset stored state (Database, Exports)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components, or --session to delete a single session.",
	Annotations: map[string]string{annotationDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)

		if resetSession != "" {
			id, err := uuid.Parse(resetSession)
			if err != nil {
				utils.Die("Invalid session ID", err, nil)
			}
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Delete session %s and its snapshots?", id)) {
				if err := DB.DeleteSession(cmd.Context(), id); err != nil {
					utils.Die("Failed to delete session", err, nil)
				}
				fmt.Printf("🗑️  Session %s deleted.\n", id)
			}
			return
		}

		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		if resetDB {
			if confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all exports in %s?", Cfg.OutputDir)) {
				fmt.Println("🗑️  Clearing Exports...")
				removeDir(Cfg.OutputDir)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated exports (charts, plots, CSV, JSON)")
	resetCmd.Flags().StringVar(&resetSession, "session", "", "Delete only this session")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
