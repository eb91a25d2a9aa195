package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump diagnostics of the message store",
	Long: `Dump the state of the current identity's message store: file path, SQLite
version, schema version and SQL, row counts, and the log entries written
while opening it.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("json", false, "output as JSON")
	inspectCmd.Flags().Bool("schema", false, "include the schema SQL")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	d, err := e.store.Inspect(ctx)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	withSchema, _ := cmd.Flags().GetBool("schema")
	printDiagnostics(d, withSchema)
	return nil
}

func printDiagnostics(d store.Diagnostics, withSchema bool) {
	fmt.Println(titleStyle.Render("Store"))
	fmt.Printf("  User:           %s\n", d.User)
	fmt.Printf("  Path:           %s\n", d.Path)
	fmt.Printf("  SQLite:         %s\n", d.SQLiteVersion)
	fmt.Printf("  Schema version: %d\n", d.SchemaVersion)

	fmt.Println()
	fmt.Println(titleStyle.Render("Tables"))
	tables := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		fmt.Printf("  %-14s  %d rows\n", name, d.Tables[name])
	}

	if withSchema {
		fmt.Println()
		fmt.Println(titleStyle.Render("Schema"))
		for _, sql := range d.Schema {
			fmt.Println(dimStyle.Render(indent(sql, "  ")))
		}
	}

	if len(d.Logs) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(titleStyle.Render("Recent log"))
	for _, entry := range d.Logs {
		level := strings.ToUpper(entry.Level)
		switch level {
		case "WARN":
			level = warnStyle.Render(fmt.Sprintf("%-5s", level))
		case "ERROR":
			level = errStyle.Render(fmt.Sprintf("%-5s", level))
		default:
			level = dimStyle.Render(fmt.Sprintf("%-5s", level))
		}
		fmt.Printf("  %s  %s  %s%s\n", entry.Timestamp.Format("15:04:05"), level, entry.Message, formatFields(entry.Fields))
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return dimStyle.Render(b.String())
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}
