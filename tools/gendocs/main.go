// Command gendocs generates man pages and markdown docs from the Cobra
// command tree.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/spf13/cobra/doc"

	"pier2pier.dev/go/pier2pier/internal/cli"
)

func main() {
	manDir := flag.String("man", "./man", "man page output directory")
	mdDir := flag.String("markdown", "./docs/cli", "markdown output directory")
	flag.Parse()

	header := &doc.GenManHeader{
		Title:   "PIER2PIER",
		Section: "1",
		Source:  "pier2pier",
		Manual:  "pier2pier manual",
	}

	rootCmd := cli.RootCmd
	rootCmd.DisableAutoGenTag = true

	if err := os.MkdirAll(*manDir, 0o755); err != nil {
		log.Fatalf("Failed to create man directory: %v", err)
	}
	if err := doc.GenManTree(rootCmd, header, *manDir); err != nil {
		log.Fatalf("Failed to generate man pages: %v", err)
	}
	log.Printf("Man pages generated in %s", *manDir)

	if err := os.MkdirAll(*mdDir, 0o755); err != nil {
		log.Fatalf("Failed to create docs directory: %v", err)
	}
	if err := doc.GenMarkdownTree(rootCmd, *mdDir); err != nil {
		log.Fatalf("Failed to generate markdown docs: %v", err)
	}
	log.Printf("Markdown docs generated in %s", *mdDir)
}
