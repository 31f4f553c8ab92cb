package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/drok-bot/drok/internal/channels"
	"github.com/drok-bot/drok/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const startedAtSetting = "gateway_started_at"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the chat gateway (Slack, WhatsApp, metrics)",
	RunE:  runGateway,
}

var gatewayConsole bool

func init() {
	gatewayCmd.Flags().BoolVar(&gatewayConsole, "console", false, "Also read messages from stdin")
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader("🌐 drok Gateway")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Channels.Slack.Enabled && !cfg.Channels.WhatsApp.Enabled && !gatewayConsole {
		return fmt.Errorf("no channels enabled: set channels.slack.enabled, channels.whatsapp.enabled or pass --console")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov, err := newGeminiProvider(ctx, cfg.Model)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, prov)
	if err != nil {
		return err
	}
	if cfg.Channels.Slack.Enabled {
		rt.addChannel(channels.NewSlackChannel(cfg.Channels.Slack, rt.bus))
	}
	if cfg.Channels.WhatsApp.Enabled {
		rt.addChannel(channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, rt.bus))
		fmt.Printf("WhatsApp QR (first link only): %s\n", cfg.Channels.WhatsApp.QRPath)
	}
	if gatewayConsole {
		rt.addChannel(channels.NewConsoleChannel(rt.bus, os.Stdin, os.Stdout, os.Getenv("USER"), ""))
	}

	if err := rt.start(ctx); err != nil {
		cancel()
		rt.close()
		return err
	}
	started := time.Now()
	if err := rt.timeline.SetSetting(startedAtSetting, started.UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record gateway start", "error", err)
	}

	var srv *http.Server
	if cfg.Gateway.Port > 0 {
		addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
		srv = &http.Server{
			Addr:              addr,
			Handler:           rt.httpHandler(started),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Gateway HTTP server failed", "addr", addr, "error", err)
			}
		}()
		fmt.Printf("Health:  http://%s/healthz\n", addr)
		fmt.Printf("Metrics: http://%s/metrics\n", addr)
	}
	if rt.traces.Active() {
		fmt.Printf("Traces:  %s\n", rt.traces.Topic())
	}
	fmt.Println(color.GreenString("Gateway running. Press Ctrl+C to stop."))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown failed", "error", err)
		}
		shutdownCancel()
	}
	cancel()
	rt.close()
	return nil
}

type healthReport struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Uptime      string   `json:"uptime"`
	Channels    []string `json:"channels"`
	Tools       []string `json:"tools"`
	Histories   int      `json:"histories"`
	Turns       int      `json:"turns"`
	Inbound     int      `json:"inbound_pending"`
	Outbound    int      `json:"outbound_pending"`
	Calls       int      `json:"provider_calls"`
	TotalTokens int      `json:"total_tokens"`
}

// httpHandler serves the health report and the Prometheus endpoint.
func (r *runtime) httpHandler(started time.Time) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.health(started))
	})
	return mux
}

func (r *runtime) health(started time.Time) healthReport {
	stats := r.history.Stats()
	usage, calls := r.usage.Totals()
	names := make([]string, 0, len(r.channels))
	for _, ch := range r.channels {
		names = append(names, ch.Name())
	}
	return healthReport{
		Status:      "ok",
		Version:     version,
		Uptime:      time.Since(started).Round(time.Second).String(),
		Channels:    names,
		Tools:       r.tools.Names(),
		Histories:   stats.Channels,
		Turns:       stats.Turns,
		Inbound:     r.bus.InboundSize(),
		Outbound:    r.bus.OutboundSize(),
		Calls:       calls,
		TotalTokens: usage.TotalTokens,
	}
}
