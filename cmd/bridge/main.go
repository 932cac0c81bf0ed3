// Command bridge runs the field bridge: it bonds the shot timer and
// vibration sensors over BLE, fuses their event streams, and writes the
// correlatable NDJSON event log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"steelcitybridge.dev/bridge"
	"steelcitybridge.dev/config"
	"steelcitybridge.dev/eventlog"
	"steelcitybridge.dev/session"
	"steelcitybridge.dev/session/ble"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "Field bridge: fuses timer and vibration-sensor events into an NDJSON log",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "bridge.yaml", "path to the YAML config file")
	root.AddCommand(runCmd(), discoverCmd(), sendCommandCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the orchestrator and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd.Context())
		},
	}
}

func runBridge(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("bridge: init logger: %w", err)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()

	elog, err := eventlog.New(cfg.EventLogConfig())
	if err != nil {
		return fmt.Errorf("bridge: init event log: %w", err)
	}
	defer elog.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinygoAdapter()
	orch := bridge.New(adapter, cfg.BridgeConfig(), elog, sugar)

	sugar.Infow("starting", "session_id", elog.SessionID())
	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	sugar.Info("shut down")
	return nil
}

func discoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Passively scan for nearby devices and print what is found",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			adapter := ble.NewTinygoAdapter()
			found, err := session.Discover(ctx, adapter)
			if err != nil && ctx.Err() == nil {
				return err
			}
			for _, r := range found {
				fmt.Printf("%s  %-24s  rssi=%d\n", r.Address, r.Name, r.RSSI)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 12*time.Second, "scan duration")
	return cmd
}

// sendCommandCmd renders a named amg.commands hex template (e.g. a BEEP or
// power-off command) and writes it to the connected timer. It is the
// reachable entry point for the template facility spec.md §4.4/§9
// describes; params are given as key=value pairs substituted into the
// template's {name} / {name:fmt} placeholders.
func sendCommandCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send-command <name> [key=value ...]",
		Short: "Render a named amg.commands hex template and write it to the timer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			name := args[0]
			tpl, ok := cfg.AMG.Commands[name]
			if !ok {
				return fmt.Errorf("bridge: no command named %q under amg.commands", name)
			}
			params, err := parseCommandParams(args[1:])
			if err != nil {
				return err
			}
			payload, err := session.RenderHexTemplate(tpl, params)
			if err != nil {
				return fmt.Errorf("bridge: render command %q: %w", name, err)
			}
			if cfg.AMG.MAC == "" {
				return fmt.Errorf("bridge: send-command requires amg.mac to connect directly")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			adapter := ble.NewTinygoAdapter()
			if err := adapter.Enable(); err != nil {
				return fmt.Errorf("bridge: enable adapter: %w", err)
			}
			dev, err := adapter.ConnectAddress(ctx, cfg.AMG.MAC, ble.AddressTypePublic)
			if err != nil {
				return fmt.Errorf("bridge: connect: %w", err)
			}
			defer dev.Disconnect()

			if err := session.WriteCommand(dev, cfg.AMG.WriteUUID, payload); err != nil {
				return fmt.Errorf("bridge: write command %q: %w", name, err)
			}
			fmt.Printf("wrote command %q (%d bytes) to timer\n", name, len(payload))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "connect timeout")
	return cmd
}

func parseCommandParams(args []string) (map[string]int, error) {
	params := make(map[string]int, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("bridge: invalid param %q, want key=value", a)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bridge: param %q: %w", a, err)
		}
		params[k] = n
	}
	return params, nil
}
