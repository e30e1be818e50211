package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mossy-p/video-rooms/internal/agent"
)

var (
	flagServer   string
	flagRoom     string
	flagUserID   string
	flagRedis    string
	flagInterval time.Duration
	flagTimeout  time.Duration
	flagDebug    bool
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Headless room participant: joins a room, connects to every peer",
	RunE:  runAgent,
}

func init() {
	rootCmd.Flags().StringVarP(&flagServer, "server", "s", "http://localhost:8080", "signaling server base URL")
	rootCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "room to join (required)")
	rootCmd.Flags().StringVar(&flagUserID, "user-id", "", "identity to use (default: fresh UUID)")
	rootCmd.Flags().StringVar(&flagRedis, "redis", "", "redis address for the announce channel (optional)")
	rootCmd.Flags().DurationVar(&flagInterval, "interval", 0, "discovery poll interval (default 5s)")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "session attempt timeout (default 15s)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "verbose logging")
	_ = rootCmd.MarkFlagRequired("room")
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := agent.Config{
		ServerURL:      flagServer,
		RoomID:         flagRoom,
		UserID:         flagUserID,
		SessionTimeout: flagTimeout,
		PollInterval:   flagInterval,
		Logger:         logger,
	}

	if flagRedis != "" {
		client := goredis.NewClient(&goredis.Options{Addr: flagRedis})
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, announce channel disabled", zap.Error(err))
		} else {
			cfg.Redis = client
		}
	}

	a, err := agent.New(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting agent",
		zap.String("server", flagServer),
		zap.String("room", flagRoom),
		zap.String("user", a.UserID()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLogger() (*zap.Logger, error) {
	if flagDebug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
