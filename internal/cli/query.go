package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/store"
)

var queryCmd = &cobra.Command{
	Use:   "query <statement> [params...]",
	Short: "Run a validated SQL statement against the message store",
	Long: `Run one SELECT, INSERT, UPDATE or DELETE statement against the store of
the current identity. Use ? placeholders for parameters.

Parameters that look like integers or floats are bound as numbers and
"null" is bound as NULL. Use --strings to bind every parameter as text.

Examples:
  pier2pier query "SELECT address, last_seen FROM peers"
  pier2pier query "SELECT content FROM messages WHERE peer = ? LIMIT ?" alice:bob 5
  pier2pier query "DELETE FROM messages WHERE timestamp < ?" 1700000000000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().Bool("json", false, "output as JSON")
	queryCmd.Flags().Bool("strings", false, "bind every parameter as text")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	asStrings, _ := cmd.Flags().GetBool("strings")
	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		if asStrings {
			params = append(params, a)
			continue
		}
		params = append(params, parseParam(a))
	}

	res, err := e.store.Execute(ctx, args[0], params...)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Columns == nil {
		fmt.Printf("%d row(s) affected\n", res.RowsAffected)
		return nil
	}
	return printRows(res)
}

// parseParam binds numeric-looking arguments as numbers and "null" as NULL.
func parseParam(s string) any {
	if strings.EqualFold(s, "null") {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func printRows(res store.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(res.Columns, "\t")))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = formatCell(row[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("(%d rows)", len(res.Rows))))
	return nil
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\t", " ")
	return s
}
