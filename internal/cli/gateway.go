package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/gateway"
)

const sweepInterval = 5 * time.Minute

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the HTTP gateway",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader(cmd.OutOrStdout(), "🌐 Astra Gateway")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.llm == nil {
		slog.Warn("No provider API key configured, AI capabilities will answer with the unavailable message")
	}

	gin.SetMode(gin.ReleaseMode)
	opts := gateway.Options{
		Pipeline:  rt.pipeline,
		Catalog:   rt.catalog,
		Rules:     rt.rules,
		Consents:  rt.consents,
		AuthToken: rt.cfg.Gateway.AuthToken,
	}
	if rt.memory != nil {
		opts.Memory = rt.memory
	}
	srv := gateway.New(opts)

	go runSweeper(ctx, rt)

	addr := fmt.Sprintf("%s:%d", rt.cfg.Gateway.Host, rt.cfg.Gateway.Port)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s/astra\n", addr)
	return srv.Run(ctx, addr)
}

func runSweeper(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.sweep(ctx)
		}
	}
}
