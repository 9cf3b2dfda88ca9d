package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"envoy-logger/config"
	"envoy-logger/internal/api"
	"envoy-logger/internal/engine"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sample"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "envoy-logger",
		Short:         "Enphase Envoy telemetry logger",
		Long:          "Samples an Enphase Envoy gateway and writes power, inverter and daily energy records to InfluxDB, Prometheus, SQLite or MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger.Init(level, logger.IsService())
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the logging service",
		Long:  "Sample the gateway on every interval boundary and write to the configured sinks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			sinks, err := buildSinks(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := sinks.Close(); err != nil {
					logger.Warn().Err(err).Msg("failed to close sinks")
				}
			}()

			client := buildEnvoyClient(cfg)
			eng := engine.New(engine.Config{
				Sampler:      buildCollector(cfg, client),
				Sink:         sinks.multi,
				Integrator:   sinks.multi.Integrator(),
				Source:       cfg.Envoy.Tag,
				Serials:      cfg.InverterSerials(),
				InverterTags: cfg.InverterTags(),
				Interval:     cfg.Collector.Interval,
			})

			// Setup context for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			servers := buildServers(cfg, eng, sinks)
			for _, srv := range servers {
				go func(srv *api.Server) {
					if err := srv.Start(); err != nil {
						logger.Error().Err(err).Msg("HTTP server error")
					}
				}(srv)
			}

			logger.Info().
				Str("envoy", cfg.Envoy.URL).
				Int("sinks", sinks.multi.Len()).
				Msg("Envoy logger started. Press Ctrl+C to stop.")

			runErr := eng.Run(ctx)

			logger.Info().Msg("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, srv := range servers {
				if err := srv.Stop(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("HTTP server shutdown failed")
				}
			}

			return runErr
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Read data once from the gateway",
		Long:  "Authenticate, collect one sample and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDevice(); err != nil {
				return err
			}

			reading, err := buildCollector(cfg, buildEnvoyClient(cfg)).Collect(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			output, _ := json.MarshalIndent(reading, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test authentication against the cloud and the gateway",
		Long:  "Obtain a cloud token and a gateway session and report their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDevice(); err != nil {
				return err
			}

			creds := buildCredentials(cfg)
			fmt.Printf("Requesting token for gateway %s...\n", cfg.Envoy.Serial)
			if _, err := creds.Token(cmd.Context()); err != nil {
				fmt.Printf("Token FAILED: %v\n", err)
				return err
			}
			expiry := creds.Expiry()
			fmt.Printf("Token valid until %s (%s left)\n", expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Minute))

			client := newEnvoyClient(cfg, creds)
			fmt.Printf("Opening session with %s...\n", cfg.Envoy.URL)
			if _, err := client.Sessions().SessionID(cmd.Context()); err != nil {
				fmt.Printf("Session FAILED: %v\n", err)
				return err
			}
			fmt.Println("Session SUCCESS!")

			data, err := client.FetchPower(cmd.Context())
			if err != nil {
				fmt.Printf("Warning: Could not read data: %v\n", err)
				return nil
			}

			fmt.Printf("\nCurrent Values:\n")
			for _, t := range sample.LineTypes {
				lines := data.Lines(t)
				if len(lines) == 0 {
					continue
				}
				var total float64
				for _, line := range lines {
					total += line.WNow
				}
				fmt.Printf("  %-12s %8.1f W over %d line(s)\n", string(t)+":", total, len(lines))
			}
			return nil
		},
	}
}

func inventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Print the gateway device inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateDevice(); err != nil {
				return err
			}

			raw, err := buildEnvoyClient(cfg).FetchInventory(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read inventory: %w", err)
			}

			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("failed to decode inventory: %w", err)
			}
			output, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the merged file, environment and default configuration as YAML with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Redacted())
		},
	}
}
