package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/reflex/internal/interrupt"
	"github.com/ShayCichocki/reflex/internal/pubsub"
)

var (
	signalRedis   bool
	signalDir     string
	signalChannel string
)

var signalCmd = &cobra.Command{
	Use:   "signal <command> [text...]",
	Short: "Send a control signal to a running loop",
	Long: `Send a signal to a running reflex loop.

Commands: pause, continue, stop, goal <text>, context <text>, feedback <text>

By default the signal is dropped into the signals directory watched by the
file source. With --redis it is published on the configured channel.

Examples:
  reflex signal pause
  reflex signal goal finish the migration first
  reflex signal --redis stop`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sig, err := interrupt.ParseSignal(strings.Join(args, " "))
		if err != nil {
			return err
		}

		if signalRedis {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			ps, err := pubsub.New(ctx, pubsub.Options{
				Addr:     cfg.Interrupts.Redis.Addr,
				Password: cfg.Interrupts.Redis.Password,
				DB:       cfg.Interrupts.Redis.DB,
			})
			if err != nil {
				return err
			}
			defer ps.Close()

			channel := signalChannel
			if channel == "" {
				channel = cfg.Interrupts.Redis.Channel
			}
			if err := pubsub.PublishSignal(ctx, ps, channel, sig); err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Published %q on %s", sig.String(), channel), color.FgGreen)
			return nil
		}

		dir := signalDir
		if dir == "" {
			dir = cfg.Interrupts.SignalDir
		}
		path, err := interrupt.WriteSignalFile(dir, sig)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Wrote %q to %s", sig.String(), path), color.FgGreen)
		return nil
	},
}

func init() {
	signalCmd.Flags().BoolVar(&signalRedis, "redis", false, "Publish over redis instead of the signals directory")
	signalCmd.Flags().StringVar(&signalDir, "dir", "", "Signals directory (default: interrupts.signal_dir)")
	signalCmd.Flags().StringVar(&signalChannel, "channel", "", "Redis channel (default: interrupts.redis.channel)")
}
