package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/glyph"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "catalog REFERENCE_FONT",
		Short: "Build a glyph catalog from an unobfuscated reference font",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			font, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read reference font: %w", err)
			}
			cat, dup, err := glyph.CatalogFromFont(glyph.SFNTProvider{}, font)
			if err != nil {
				return err
			}
			if len(dup) > 0 {
				opts.logger.Warn("letters share geometry with another letter and were skipped",
					zap.String("letters", string(dup)))
			}
			data, err := json.MarshalIndent(cat, "", "  ")
			if err != nil {
				return fmt.Errorf("encode catalog: %w", err)
			}
			if out == "" || out == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write catalog: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d entries to %s\n", len(cat), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
