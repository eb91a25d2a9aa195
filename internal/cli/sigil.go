package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/sigil"
	"pier2pier.dev/go/pier2pier/internal/tui"
)

var sigilCmd = &cobra.Command{
	Use:   "sigil",
	Short: "Work with sigils",
}

var sigilDecodeCmd = &cobra.Command{
	Use:   "decode [sigil]",
	Short: "Decode and validate a sigil",
	Long: `Decode a sigil and print the descriptor it carries. Useful when a peer
reports that your sigil was rejected. Reads the sigil from stdin when no
argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSigilDecode,
}

var sigilQRCmd = &cobra.Command{
	Use:   "qr [sigil]",
	Short: "Render a sigil as a QR code",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSigilQR,
}

func init() {
	sigilDecodeCmd.Flags().Bool("json", false, "output as JSON")
	sigilCmd.AddCommand(sigilDecodeCmd)
	sigilCmd.AddCommand(sigilQRCmd)
	rootCmd.AddCommand(sigilCmd)
}

func sigilArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return tui.Stdin().ReadSigil("")
}

func runSigilDecode(cmd *cobra.Command, args []string) error {
	text, err := sigilArg(args)
	if err != nil {
		return err
	}
	d, err := sigil.Parse(text)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Printf("%s Valid %s\n\n", okStyle.Render("✓"), d.Type)
	fmt.Printf("  Version:    %d\n", d.Version)
	fmt.Printf("  Session:    %s\n", d.Session)
	fmt.Printf("  Token:      %s…\n", d.Token[:8])
	if len(d.Candidates) == 0 {
		fmt.Println("  Candidates: none")
		return nil
	}
	fmt.Println("  Candidates:")
	for _, c := range d.Candidates {
		fmt.Printf("    %s\n", c)
	}
	return nil
}

func runSigilQR(cmd *cobra.Command, args []string) error {
	text, err := sigilArg(args)
	if err != nil {
		return err
	}
	d, err := sigil.Parse(text)
	if err != nil {
		return err
	}
	compact, err := sigil.Serialize(d)
	if err != nil {
		return err
	}
	qr, err := sigil.RenderQR(compact)
	if err != nil {
		return err
	}
	fmt.Println(qr)
	return nil
}
