// cmd/scriptparse/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Corphon/ScriptHook/internal/scriptparse"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#06B6D4")
	colorSuccess   = lipgloss.Color("#10B981")
	colorMuted     = lipgloss.Color("#6B7280")

	styleLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1).
			Width(72)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorMuted)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run classifies one model reply read from a file or stdin.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scriptparse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print the classification as JSON")
	repair := fs.String("repair", "tokenized", "relaxed recovery mode: tokenized or legacy")
	strip := fs.String("strip", "html", "markup stripper: html, regex or none")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: scriptparse [flags] [file]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	opts, err := extractorOptions(*repair, *strip)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	raw, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	c := scriptparse.NewExtractor(opts...).Classify(raw)
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(c); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintln(stdout, render(c))
	return 0
}

func extractorOptions(repair, strip string) ([]scriptparse.Option, error) {
	opts := []scriptparse.Option{scriptparse.WithLogger(nil)}

	switch repair {
	case "tokenized":
		opts = append(opts, scriptparse.WithRepairMode(scriptparse.RepairTokenized))
	case "legacy":
		opts = append(opts, scriptparse.WithRepairMode(scriptparse.RepairLegacy))
	default:
		return nil, fmt.Errorf("unknown repair mode %q", repair)
	}

	switch strip {
	case "html":
		opts = append(opts, scriptparse.WithStripper(scriptparse.HTMLStripper{}))
	case "regex":
		opts = append(opts, scriptparse.WithStripper(scriptparse.RegexStripper{}))
	case "none":
		opts = append(opts, scriptparse.WithStripper(nil))
	default:
		return nil, fmt.Errorf("unknown stripper %q", strip)
	}
	return opts, nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func render(c *scriptparse.Classification) string {
	if !c.IsScript() {
		header := styleLabel.Render("CHAT") + " " + styleMuted.Render("(markdown)")
		return lipgloss.JoinVertical(lipgloss.Left, header, styleBox.Render(strings.TrimSpace(c.Markdown)))
	}

	sections := []struct {
		label string
		text  string
		color lipgloss.Color
	}{
		{"HOOK", c.Segments.Hook, colorPrimary},
		{"BODY", c.Segments.Body, colorSecondary},
		{"CTA", c.Segments.CTA, colorSuccess},
	}

	blocks := make([]string, 0, len(sections)*2)
	for _, s := range sections {
		text := s.text
		if text == "" {
			text = styleMuted.Render("(empty)")
		}
		blocks = append(blocks,
			styleLabel.Foreground(s.color).Render(s.label),
			styleBox.BorderForeground(s.color).Render(text),
		)
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}
