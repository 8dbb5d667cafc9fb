package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/jointscope/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <session_id> <name>",
	Short:       "Assign a name to a saved tracking session",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{annotationDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		name := args[1]

		runLabel(cmd.Context(), id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id uuid.UUID, name string) {
	if err := DB.LabelSession(ctx, id, name); err != nil {
		utils.Die("Failed to label session", err, nil)
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", id, name)
}
