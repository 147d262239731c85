package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/glyph"
	"github.com/JakeFAU/novel-crawler/internal/hash/sha256"
)

func newDecodeCmd(opts *rootOptions) *cobra.Command {
	var (
		fontPath    string
		catalogPath string
		showMap     bool
	)
	cmd := &cobra.Command{
		Use:   "decode --font FILE [text|-]",
		Short: "Decode obfuscated text against a font and glyph catalog",
		Long: `Builds the substitution map for a TTF/OTF/WOFF font and prints the
decoded text. Text is read from the arguments, or from stdin when the only
argument is "-" or none is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fontPath == "" {
				return fmt.Errorf("--font is required")
			}
			if catalogPath == "" {
				catalogPath = opts.cfg.Glyph.CatalogPath
			}
			if catalogPath == "" {
				return fmt.Errorf("--catalog or glyph.catalog_path is required")
			}

			font, err := os.ReadFile(fontPath)
			if err != nil {
				return fmt.Errorf("read font: %w", err)
			}
			catalog, err := glyph.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}

			var text string
			if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read text: %w", err)
				}
				text = string(data)
			} else {
				text = strings.Join(args, " ")
			}

			dec := glyph.NewDecoder(glyph.SFNTProvider{}, catalog, sha256.New(), opts.logger)
			if showMap {
				fmt.Fprintln(cmd.ErrOrStderr(), dec.MapFor(font).String())
			}
			res := dec.Decode(font, text)
			if !res.Success {
				opts.logger.Warn("font produced no usable mapping; text unchanged", zap.Int("mapped", res.Mapped))
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Text)
			if !strings.HasSuffix(res.Text, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fontPath, "font", "", "obfuscation font file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "glyph catalog JSON (default glyph.catalog_path)")
	cmd.Flags().BoolVar(&showMap, "map", false, "print the substitution map to stderr")
	return cmd
}
