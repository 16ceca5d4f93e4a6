// File: cmd/fix.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
	"github.com/xkilldash9x/shotprep/internal/browser/network"
	"github.com/xkilldash9x/shotprep/internal/browser/session"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/fetch"
	"github.com/xkilldash9x/shotprep/internal/messaging"
	"github.com/xkilldash9x/shotprep/internal/observability"
	"github.com/xkilldash9x/shotprep/internal/page"
)

const maxPageBytes = 32 << 20

func newFixCmd() *cobra.Command {
	var (
		output string
		live   bool
	)
	fixCmd := &cobra.Command{
		Use:   "fix <url>",
		Short: "Load a page, expand it for a full-length capture and write the fixed HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("fix")

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			count, err := runFix(ctx, cfg, logger, args[0], live, out)
			if err != nil {
				return err
			}
			logger.Info("Page fixed", zap.String("url", args[0]), zap.Int("fixed_elements", count), zap.Bool("live", live))
			return nil
		},
	}
	fixCmd.Flags().StringVarP(&output, "output", "o", "", "write the fixed HTML to this file instead of stdout")
	fixCmd.Flags().BoolVar(&live, "live", false, "load the page in the browser for real measurements")
	return fixCmd
}

// runFix expands the page at target and writes the resulting document to out.
// It returns the number of fixed elements.
func runFix(ctx context.Context, cfg config.Interface, logger *zap.Logger, target string, live bool, out io.Writer) (int, error) {
	fetcher := fetch.New(cfg.Fetch(), logger)

	var (
		doc    *dom.Document
		mirror page.Mirror
	)
	if live {
		manager := session.NewManager(cfg.Browser(), logger)
		defer func() {
			if err := manager.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Browser shutdown failed", zap.Error(err))
			}
		}()
		tab, err := manager.Open(ctx, target)
		if err != nil {
			return 0, err
		}
		if doc, err = tab.Document(ctx); err != nil {
			return 0, err
		}
		mirror = tab
	} else {
		var err error
		if doc, err = loadDocument(ctx, cfg.Fetch(), target); err != nil {
			return 0, err
		}
	}

	pipeline, set, err := page.NewPipeline(fetcher, logger)
	if err != nil {
		return 0, err
	}
	agent, err := page.New(doc, page.Options{Pipeline: pipeline, Globals: set, Mirror: mirror, Logger: logger})
	if err != nil {
		return 0, err
	}
	defer agent.Close(context.WithoutCancel(ctx))

	resp := agent.Handle(ctx, messaging.ExpandElements{})
	if err := resp.Err(); err != nil {
		return 0, fmt.Errorf("failed to expand page: %w", err)
	}
	if _, err := io.WriteString(out, agent.HTML()); err != nil {
		return 0, fmt.Errorf("failed to write fixed HTML: %w", err)
	}
	return resp.Count, nil
}

// loadDocument fetches target over plain HTTP. Layout metrics are estimated
// from the cascade since no engine renders the page.
func loadDocument(ctx context.Context, cfg config.FetchConfig, target string) (*dom.Document, error) {
	clientCfg := network.NewClientConfig()
	clientCfg.UserAgent = cfg.UserAgent
	if cfg.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Timeout
	}
	client := network.NewClient(clientCfg)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to load %s: status %d", target, resp.StatusCode)
	}
	return dom.Parse(io.LimitReader(resp.Body, maxPageBytes), resp.Request.URL.String())
}
