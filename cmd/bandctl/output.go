package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	labelColor = color.New(color.FgCyan)
	valueColor = color.New(color.Bold)
	warnColor  = color.New(color.FgYellow, color.Bold)
)

// printField prints one "label: value" line.
func printField(w io.Writer, label string, value any) {
	labelColor.Fprintf(w, "%-18s", label+":")
	valueColor.Fprintf(w, " %v\n", value)
}

// printWarn prints a warning line.
func printWarn(w io.Writer, message string) {
	warnColor.Fprintln(w, "[-] "+message)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
