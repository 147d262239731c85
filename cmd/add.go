package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add [url...]",
		Short: "Queue novel urls for discovery",
		Long: `Adds each novel url as PENDING. Urls already known are skipped. With
--file, urls are read one per line ("-" reads stdin); blank lines and lines
starting with # are ignored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := append([]string(nil), args...)
			if file != "" {
				more, err := readURLs(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				urls = append(urls, more...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no urls given")
			}

			a, err := newApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			defer a.Close()

			added, err := seed(cmd.Context(), a.Store(), urls, opts.logger)
			fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d novels\n", added, len(urls))
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read urls from a file, one per line")
	return cmd
}

func readURLs(stdin io.Reader, path string) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}

func seed(ctx context.Context, seeder crawler.Seeder, urls []string, logger *zap.Logger) (int, error) {
	added := 0
	for _, raw := range urls {
		normalized, err := crawler.NormalizeURL(raw)
		if err != nil {
			return added, fmt.Errorf("invalid novel url: %w", err)
		}
		ok, err := seeder.AddNovel(ctx, normalized)
		if err != nil {
			return added, fmt.Errorf("add novel %s: %w", raw, err)
		}
		if ok {
			added++
		} else {
			logger.Info("novel already queued", zap.String("url", normalized))
		}
	}
	return added, nil
}
