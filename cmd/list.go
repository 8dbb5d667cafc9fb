package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/jointscope/internal/store"
	"github.com/andresmejia3/jointscope/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all saved tracking sessions",
	Annotations: map[string]string{annotationDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}
	writeSessionTable(os.Stdout, sessions)
}

func writeSessionTable(out io.Writer, sessions []store.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tVIDEO\tLABEL\tSNAPSHOTS\tCOMPLETE\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-----\t---------\t--------\t-------")

	for _, s := range sessions {
		complete := "no"
		if s.WatchedToEnd {
			complete = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, filepath.Base(s.Path), s.Label, s.Count, complete, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
