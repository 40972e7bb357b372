package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/reconcile"
)

// replayCmd pushes dead-lettered payloads back through the reconciliation pipeline.
func newReplayCmd(configFile *string) *cobra.Command {
	var (
		routingKey string
		file       string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reprocess payment event payloads (one JSON document per line) through the reconciler",
		Example: `  sales-service replay --routing-key escrow.funds_held --file dead-letters.jsonl
  cat event.json | sales-service replay --routing-key transaction.completed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(routingKey) == "" {
				return errors.New("--routing-key is required")
			}
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			a, err := loadApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.drain(context.WithoutCancel(cmd.Context()))

			return replay(cmd.Context(), a.reconciler, a.logger, routingKey, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&routingKey, "routing-key", "k", "", "routing key the payloads were published under")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "file with one JSON payload per line, - for stdin")
	return cmd
}

func replay(ctx context.Context, r *reconcile.Reconciler, logger *zap.Logger, routingKey string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var failed int
	line := 0
	for scanner.Scan() {
		line++
		body := bytes.TrimSpace(scanner.Bytes())
		if len(body) == 0 {
			continue
		}
		result, err := r.Process(ctx, routingKey, body)
		if err != nil {
			failed++
			logger.Error("replay failed", zap.Int("line", line), zap.Error(err))
			fmt.Fprintf(out, "line %d: error: %v\n", line, err)
			continue
		}
		fmt.Fprintf(out, "line %d: %s sale=%d status=%s strategy=%s\n",
			line, result.Outcome, result.SaleID, result.Status, result.Strategy)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d payload(s) failed", failed)
	}
	return nil
}
