package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/config"
	"pier2pier.dev/go/pier2pier/internal/link"
	"pier2pier.dev/go/pier2pier/internal/sigil"
	"pier2pier.dev/go/pier2pier/internal/store"
	"pier2pier.dev/go/pier2pier/internal/transport/direct"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check pier2pier health",
	Long: `Run health checks on your pier2pier installation.

Checks the configuration, the message store of the current identity, and
whether a sigil can be created with the configured transport settings.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

// checker prints check results and counts failures.
type checker struct {
	failures int
}

func (c *checker) ok(format string, a ...any) {
	fmt.Printf("  %s %s\n", okStyle.Render("✓"), fmt.Sprintf(format, a...))
}

func (c *checker) warn(format string, a ...any) {
	fmt.Printf("  %s %s\n", warnStyle.Render("⚠"), fmt.Sprintf(format, a...))
}

func (c *checker) fail(format string, a ...any) {
	c.failures++
	fmt.Printf("  %s %s\n", errStyle.Render("✗"), fmt.Sprintf(format, a...))
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("pier2pier %s\n\n", version)
	c := &checker{}

	fmt.Println(titleStyle.Render("Configuration"))
	cfg, paths, err := loadConfig()
	if err != nil {
		c.fail("%v", err)
		fmt.Println()
		return errors.Errorf("%d check(s) failed", c.failures)
	}
	configFile := configPath(paths)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		c.warn("%s not found, using defaults (run 'pier2pier init' to create it)", configFile)
	} else {
		c.ok("Config file: %s", configFile)
	}
	timeout, _ := cfg.ConnectTimeout()
	c.ok("Listen address: %s, connect timeout %s", cfg.Transport.ListenAddr, timeout)
	fmt.Println()

	fmt.Println(titleStyle.Render("Store"))
	ctx := cmd.Context()
	checkStore(ctx, c, paths.StoreDir(cfg), cfg.Identity.User)
	fmt.Println()

	fmt.Println(titleStyle.Render("Transport"))
	checkSigil(ctx, c, cfg)
	fmt.Println()

	if c.failures > 0 {
		return errors.Errorf("%d check(s) failed", c.failures)
	}
	fmt.Println(okStyle.Render("All checks passed."))
	return nil
}

func checkStore(ctx context.Context, c *checker, dir, user string) {
	gw := store.New(dir)
	if err := gw.Open(ctx, user); err != nil {
		c.fail("Open store in %s: %v", dir, err)
		return
	}
	defer gw.Close()

	d, err := gw.Inspect(ctx)
	if err != nil {
		c.fail("Inspect store: %v", err)
		return
	}
	c.ok("Identity: %s", d.User)
	c.ok("Store: %s", d.Path)
	if d.SchemaVersion != store.SchemaVersion {
		c.fail("Schema version %d, expected %d", d.SchemaVersion, store.SchemaVersion)
	} else {
		c.ok("Schema version %d (SQLite %s)", d.SchemaVersion, d.SQLiteVersion)
	}
	c.ok("%d conversation(s), %d message(s)", d.Tables["peers"], d.Tables["messages"])
}

// checkSigil creates an offer with the configured transport and verifies
// that its sigil parses back.
func checkSigil(ctx context.Context, c *checker, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mgr := link.NewManager(direct.New(cfg.DirectConfig(), zap.NewNop()), zap.NewNop())
	defer mgr.Destroy()

	session, err := mgr.Create(ctx, true)
	if err != nil {
		c.fail("Create offer: %v", err)
		return
	}
	_, text, _ := session.LocalDescriptor()
	d, err := sigil.Parse(text)
	if err != nil {
		c.fail("Offer sigil does not parse: %v", err)
		return
	}
	c.ok("Offer sigil created (%d characters)", len(text))
	for _, candidate := range d.Candidates {
		c.ok("Reachable at %s", candidate)
	}
	if cfg.Transport.AdvertiseHost == "" {
		c.warn("advertise_host not set, peers outside this network may not reach you")
	}
}
