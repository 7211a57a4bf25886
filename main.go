// CNCMate: real-time CNC machine monitoring and production tracking.
// Author: vesaa | License: MIT | https://github.com/vesaa/cncmate
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vesaa/cncmate/internal/agent"
	"github.com/vesaa/cncmate/internal/config"
	"github.com/vesaa/cncmate/internal/metrics"
	"github.com/vesaa/cncmate/internal/realtime"
	"github.com/vesaa/cncmate/internal/server"
	"github.com/vesaa/cncmate/internal/store"
	"github.com/vesaa/cncmate/internal/telemetry"
	"github.com/vesaa/cncmate/internal/watch"
)

const asciiLogo = `
  ██████╗███╗   ██╗ ██████╗███╗   ███╗ █████╗ ████████╗███████╗
 ██╔════╝████╗  ██║██╔════╝████╗ ████║██╔══██╗╚══██╔══╝██╔════╝
 ██║     ██╔██╗ ██║██║     ██╔████╔██║███████║   ██║   █████╗
 ██║     ██║╚██╗██║██║     ██║╚██╔╝██║██╔══██║   ██║   ██╔══╝
 ╚██████╗██║ ╚████║╚██████╗██║ ╚═╝ ██║██║  ██║   ██║   ███████╗
  ╚═════╝╚═╝  ╚═══╝ ╚═════╝╚═╝     ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝
`

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Print(asciiLogo)
	fmt.Printf("  ► CNCMate %s  |  Author: vesaa  |  Mode: %s\n\n", version, mode)
}

func main() {
	root := &cobra.Command{
		Use:   "cncmate",
		Short: "CNCMate: real-time CNC machine monitoring",
		Long: `CNCMate is a single-binary platform that collects CNC machine telemetry
(MQTT, NATS, edge agents or the built-in simulator), stores it and streams
live updates to the dashboard over WebSocket.`,
		SilenceUsage: true,
	}

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the CNCMate server (dual-port: 5000 control + 5001 data)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServer(cfg)
		},
	}

	// ── agent subcommand ──────────────────────────────────────────────────────
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Report this controller's telemetry to a CNCMate server",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("AGENT")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// CLI flags override config values.
			if join, _ := cmd.Flags().GetString("join"); join != "" {
				if !containsPort(join) {
					join = fmt.Sprintf("%s:%d", join, cfg.DataPort)
				}
				cfg.AgentJoinAddr = join
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.AgentOutboundToken = token
			}
			if id, _ := cmd.Flags().GetString("machine"); id != "" {
				cfg.AgentMachineID = id
			}
			if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
				cfg.AgentTransport = transport
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			fmt.Printf("  ✓ Transport:       %s\n", cfg.AgentTransport)
			fmt.Printf("  ✓ Joining server:  %s\n", cfg.AgentJoinAddr)
			fmt.Printf("  ✓ Report interval: %ds\n\n", cfg.AgentInterval)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return agent.Run(ctx, cfg)
		},
	}
	agentCmd.Flags().String("join", "", "Data-plane address, e.g. 192.168.1.1 or 192.168.1.1:5001")
	agentCmd.Flags().String("token", "", "Pre-shared token for server authentication (overrides config)")
	agentCmd.Flags().String("machine", "", "Machine ID to report as (default: host name)")
	agentCmd.Flags().String("transport", "", "http or mqtt (overrides config)")

	// ── seed subcommand ───────────────────────────────────────────────────────
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the machine fleet into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			fleet := store.DefaultFleet()
			if path, _ := cmd.Flags().GetString("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				if fleet, err = store.LoadFleet(f); err != nil {
					return err
				}
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer st.Close()

			n, err := st.SeedFleet(cmd.Context(), fleet)
			if err != nil {
				return err
			}
			fmt.Printf("  ✓ %d new machine(s), %d in fixture\n", n, len(fleet.Machines))
			return nil
		},
	}
	seedCmd.Flags().String("file", "", "YAML fleet fixture (default: built-in demo fleet)")

	// ── watch subcommand ──────────────────────────────────────────────────────
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live dashboard events to the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch.Run(ctx, watch.Options{URL: addr, Token: token, Out: os.Stdout})
		},
	}
	watchCmd.Flags().String("server", "http://127.0.0.1:5000", "Control-plane URL")
	watchCmd.Flags().String("token", "", "JWT for servers with ws_require_auth")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print CNCMate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CNCMate %s  |  Author: vesaa\n", version)
		},
	}

	root.AddCommand(serverCmd, agentCmd, seedCmd, watchCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cfg *config.Config) error {
	for _, spec := range []string{cfg.SimulatorSchedule, cfg.AggregatorSchedule, cfg.ShiftReportSchedule} {
		if spec == "" {
			continue
		}
		if err := telemetry.ValidateSchedule(spec); err != nil {
			return err
		}
	}
	policy, err := realtime.ParseOverflowPolicy(cfg.WSOverflowPolicy)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := server.BootstrapAdmin(ctx, st, cfg.AdminUser, cfg.AdminPass); err != nil {
		return fmt.Errorf("creating admin account: %w", err)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	// ── Live data path ────────────────────────────────────────────────────────
	hub := realtime.NewHub(m)
	applier := telemetry.NewApplier(st, hub, telemetry.ApplierOptions{
		Shards:  cfg.ApplierShards,
		Queue:   cfg.ApplierQueue,
		Metrics: m,
	})
	aggregator := telemetry.NewAggregator(st, hub, telemetry.AggregatorOptions{
		Schedule:            cfg.AggregatorSchedule,
		LegacyEvents:        cfg.AggregatorLegacyEvents,
		ShiftReportSchedule: cfg.ShiftReportSchedule,
		Metrics:             m,
	})

	var sources []telemetry.Source
	if cfg.SimulatorEnabled {
		sources = append(sources, telemetry.NewSimulator(st, telemetry.SimulatorOptions{
			Schedule:     cfg.SimulatorSchedule,
			InitialDelay: cfg.SimulatorInitialDelay,
			StatusRate:   cfg.SimulatorStatusRate,
		}))
	}
	var mqttSource *telemetry.MQTTSource
	if cfg.MQTTEnabled {
		mqttSource = telemetry.NewMQTTSource(telemetry.MQTTOptions{
			Broker:       cfg.MQTTBroker,
			Namespace:    cfg.MQTTNamespace,
			ClientPrefix: cfg.MQTTClientPrefix,
			Username:     cfg.MQTTUsername,
			Password:     cfg.MQTTPassword,
		})
		sources = append(sources, mqttSource)
	}
	if cfg.NATSEnabled {
		sources = append(sources, telemetry.NewNATSSource(cfg.NATSURL, cfg.NATSSubjectPrefix))
	}

	svc := telemetry.NewService(applier, aggregator, sources...)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	srv := server.New(st, hub, applier, server.Options{
		Auth:       server.NewAuth(cfg.JWTSecret, cfg.JWTTTL),
		AgentToken: cfg.AgentToken,
		WS: realtime.WSOptions{
			SendBuffer:   cfg.WSSendBuffer,
			Policy:       policy,
			WriteTimeout: cfg.WSWriteTimeout,
			PingInterval: cfg.WSPingInterval,
			Metrics:      m,
		},
		WSRequireAuth: cfg.WSRequireAuth,
		Metrics:       m,
	})
	if mqttSource != nil {
		if p := mqttSource.Publisher(); p != nil {
			srv.SetCommandSender(p)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	corsMiddleware := func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}

	// ── Control-plane engine (5000) ────────────────────────────────────────────
	ctrlEngine := gin.New()
	ctrlEngine.Use(gin.Recovery(), corsMiddleware)
	srv.RegisterControlRoutes(ctrlEngine)
	server.RegisterStaticFiles(ctrlEngine)

	// ── Data-plane engine (5001) ───────────────────────────────────────────────
	dataEngine := gin.New()
	dataEngine.Use(gin.Recovery())
	srv.RegisterDataRoutes(dataEngine)

	ctrlAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ControlPort)
	dataAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.DataPort)

	fmt.Printf("  ✓ Control plane (Web UI + API + /ws) → http://%s\n", ctrlAddr)
	fmt.Printf("  ✓ Data    plane (Agent telemetry)    → http://%s\n", dataAddr)
	fmt.Printf("  ✓ Sources: %d  |  DB: %s\n", len(sources), cfg.DBDriver)
	fmt.Printf("  ✓ Default login: %s\n\n", cfg.AdminUser)

	ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: ctrlEngine}
	dataSrv := &http.Server{Addr: dataAddr, Handler: dataEngine}

	errCh := make(chan error, 2)
	go func() { errCh <- ctrlSrv.ListenAndServe() }()
	go func() { errCh <- dataSrv.ListenAndServe() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errCh:
	case <-quit:
		fmt.Println("\n  → Shutting down gracefully…")
	}

	// Stop producers first so no event is broadcast into a closed hub.
	if err := svc.Stop(); err != nil {
		fmt.Printf("  ! telemetry shutdown: %v\n", err)
	}
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ctrlSrv.Shutdown(shutdownCtx)
	_ = dataSrv.Shutdown(shutdownCtx)
	return runErr
}

// containsPort checks whether addr already has a port suffix.
func containsPort(addr string) bool {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return true
		}
		if addr[i] == '/' {
			break
		}
	}
	return false
}
