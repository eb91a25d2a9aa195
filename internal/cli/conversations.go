package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/tui"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations",
	Long:    `List the conversations of the current identity, most recently active first.`,
	Args:    cobra.NoArgs,
	RunE:    runConversations,
}

var openCmd = &cobra.Command{
	Use:   "open <peer>",
	Short: "Create an empty conversation with a peer",
	Long: `Create a conversation with a peer address without connecting.

The peer address is the conversation key shown by 'pier2pier chat', for
example "alice:bob". Opening an existing conversation resets its name and
last-seen time.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <peer>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	conversationsCmd.Flags().Bool("json", false, "output as JSON")
	deleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runConversations(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	peers, err := e.store.Peers(ctx)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(peers)
	}

	if len(peers) == 0 {
		fmt.Println(dimStyle.Render("No conversations yet. Start one with 'pier2pier chat'."))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tNAME\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Address, p.Name, formatLastSeen(p.LastSeen))
	}
	return w.Flush()
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.store.CreateConversation(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("%s Conversation %s ready\n", okStyle.Render("✓"), titleStyle.Render(args[0]))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		ok, err := tui.Stdin().Confirm(fmt.Sprintf("Delete conversation %q and all its messages?", args[0]), false)
		if err != nil {
			return errors.Wrap(err, "read confirmation")
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := e.store.DeleteConversation(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("%s Deleted %s\n", okStyle.Render("✓"), args[0])
	return nil
}
