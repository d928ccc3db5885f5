package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var commentCmd = &cobra.Command{
	Use:   "comment <worker-name> <text>",
	Short: "Post a note on a worker's ticket",
	Long: `Append a note to the ticket a worker is assigned to. Workers read their
ticket's notes, so this is the channel for mid-flight guidance.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runComment,
}

func init() {
	rootCmd.AddCommand(commentCmd)
}

func runComment(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	en, err := e.findSession(args[0])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	return e.tickets.AddNote(cmd.Context(), en.Handle.TicketID, text)
}
