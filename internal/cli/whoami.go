package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/identity"
)

var whoamiPeer string

func init() {
	rootCmd.AddCommand(whoamiCmd)
	whoamiCmd.Flags().StringVar(&whoamiPeer, "peer", "", "also show the conversation key shared with this peer")
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show identity information",
	Long: `Display the identity commands act as and where its messages are stored.
With --peer, also show the conversation key both sides derive.

Examples:
  pier2pier whoami
  pier2pier whoami --user bob
  pier2pier whoami --peer alice`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	peers, err := e.store.Peers(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Identity:      %s\n", e.userID)
	fmt.Printf("Store:         %s\n", e.store.Path())
	fmt.Printf("Config file:   %s\n", configPath(e.paths))
	fmt.Printf("Conversations: %d\n", len(peers))

	if whoamiPeer != "" {
		remote, err := identity.Normalize(whoamiPeer)
		if err != nil {
			return err
		}
		fmt.Printf("Conversation with %s: %s\n", remote, identity.ConversationID(e.userID, remote))
	}
	return nil
}
