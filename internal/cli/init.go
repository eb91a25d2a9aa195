package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/config"
	"pier2pier.dev/go/pier2pier/internal/identity"
)

var (
	initName          string
	initAdvertiseHost string
	initForce         bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write a configuration file with defaults.

The user becomes the default identity for every command. Each identity has
its own message store; pass --user to any command to act as another one.

Examples:
  pier2pier init --user alice
  pier2pier init --user alice --advertise-host alice.example.net`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initName, "name", "", "default identity (3-32 letters, digits, _ or -)")
	initCmd.Flags().StringVar(&initAdvertiseHost, "advertise-host", "", "host written into sigils (default: first LAN address)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return err
	}
	target := configPath(paths)

	if _, err := os.Stat(target); err == nil && !initForce {
		return errors.Errorf("%s already exists (use --force to overwrite)", target)
	}

	name := initName
	if name == "" {
		name = userFlag
	}
	if _, err := identity.Normalize(name); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Identity.User = name
	cfg.Transport.AdvertiseHost = initAdvertiseHost
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := paths.EnsureDirectories(); err != nil {
		return err
	}
	if err := cfg.SaveTo(target); err != nil {
		return err
	}

	fmt.Printf("%s Configuration written to %s\n", okStyle.Render("✓"), target)
	user, _ := identity.Normalize(name)
	fmt.Printf("  Identity: %s\n", user)
	fmt.Printf("  Stores:   %s\n", paths.StoreDir(cfg))
	fmt.Println()
	fmt.Println("Start a conversation with: pier2pier chat --initiator")
	return nil
}
