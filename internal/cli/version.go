package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sort"

	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/sigil"
)

var (
	// Set via ldflags
	commit    = "unknown"
	buildDate = "unknown"

	// Flags
	versionFull bool
	versionJSON bool
)

// SetBuildInfo sets build information from ldflags
func SetBuildInfo(c, d string) {
	commit = c
	buildDate = d
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionFull, "full", false, "print detailed version information")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output as JSON")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print version information. Use --full for commit, build date, Go version, sigil format and dependencies.`,
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

// buildInfo is the version report.
type buildInfo struct {
	Version      string            `json:"version"`
	Commit       string            `json:"commit"`
	BuildDate    string            `json:"build_date"`
	GoVersion    string            `json:"go_version"`
	Platform     string            `json:"platform"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

func collectBuildInfo(withDeps bool) buildInfo {
	bi := buildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	for _, setting := range info.Settings {
		switch {
		case setting.Key == "vcs.revision" && bi.Commit == "unknown":
			bi.Commit = setting.Value
			if len(bi.Commit) > 8 {
				bi.Commit = bi.Commit[:8]
			}
		case setting.Key == "vcs.time" && bi.BuildDate == "unknown":
			bi.BuildDate = setting.Value
		}
	}
	if withDeps {
		bi.Dependencies = map[string]string{}
		for _, dep := range info.Deps {
			if dep.Replace != nil {
				bi.Dependencies[dep.Path] = dep.Replace.Path + " " + dep.Replace.Version
				continue
			}
			bi.Dependencies[dep.Path] = dep.Version
		}
	}
	return bi
}

func runVersion(cmd *cobra.Command, args []string) error {
	bi := collectBuildInfo(versionFull)

	if versionJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(bi)
	}

	fmt.Printf("pier2pier version %s\n", bi.Version)
	if !versionFull {
		return nil
	}

	fmt.Println()
	fmt.Printf("  Commit:       %s\n", bi.Commit)
	fmt.Printf("  Built:        %s\n", bi.BuildDate)
	fmt.Printf("  Go version:   %s\n", bi.GoVersion)
	fmt.Printf("  OS/Arch:      %s\n", bi.Platform)
	fmt.Printf("  Sigil format: %s (v%d)\n", sigil.Prefix, sigil.Version)

	if len(bi.Dependencies) > 0 {
		fmt.Println()
		fmt.Println("  Dependencies:")
		for _, path := range sortedKeys(bi.Dependencies) {
			fmt.Printf("    %s %s\n", path, bi.Dependencies[path])
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
