package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modvm/internal/storage"
)

var effectsCmd = &cobra.Command{
	Use:   "effects <file>",
	Short: "Print a change set written with --effects",
	Args:  cobra.ExactArgs(1),
	RunE:  runEffects,
}

func init() {
	effectsCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func runEffects(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cs, err := storage.UnmarshalChangeSet(data)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "pretty":
		renderEffectsPretty(cmd.OutOrStdout(), cs)
		return nil
	case "json":
		return renderEffectsJSON(cmd.OutOrStdout(), cs)
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
}

func summarizeChanges(cs *storage.ChangeSet) string {
	if cs.IsEmpty() {
		return "no changes"
	}
	return fmt.Sprintf("%d published, %d written, %d deleted across %d accounts",
		len(cs.Publishes), len(cs.Writes), len(cs.Deletes), len(cs.Accounts()))
}

func renderEffectsPretty(out io.Writer, cs *storage.ChangeSet) {
	fmt.Fprintln(out, summarizeChanges(cs))
	for _, p := range cs.Publishes {
		fmt.Fprintf(out, "  %s %s (%d bytes)\n", color.GreenString("publish"), p.ID, len(p.Bytes))
	}
	for _, w := range cs.Writes {
		fmt.Fprintf(out, "  %s %s = %x\n", color.YellowString("write  "), w.Key, w.Bytes)
	}
	for _, d := range cs.Deletes {
		fmt.Fprintf(out, "  %s %s\n", color.RedString("delete "), d)
	}
}

type effectsPayload struct {
	Publishes []string          `json:"publishes"`
	Writes    map[string]string `json:"writes"`
	Deletes   []string          `json:"deletes"`
	Accounts  []string          `json:"accounts"`
}

func renderEffectsJSON(out io.Writer, cs *storage.ChangeSet) error {
	payload := effectsPayload{
		Publishes: []string{},
		Writes:    map[string]string{},
		Deletes:   []string{},
		Accounts:  []string{},
	}
	for _, p := range cs.Publishes {
		payload.Publishes = append(payload.Publishes, p.ID.String())
	}
	for _, w := range cs.Writes {
		payload.Writes[w.Key.String()] = fmt.Sprintf("%x", w.Bytes)
	}
	for _, d := range cs.Deletes {
		payload.Deletes = append(payload.Deletes, d.String())
	}
	for _, a := range cs.Accounts() {
		payload.Accounts = append(payload.Accounts, a.String())
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
