package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/broadcast-server-go/internal/config"
	"github.com/openclaw/broadcast-server-go/internal/sse"
)

func newDispatchCmd(opts *rootOptions) *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch pass and exit (for external cron)",
		Long: "Run one dispatch pass and exit. The exit status is non-zero when due " +
			"schedules could not be listed or when any last_run write failed, since " +
			"those schedules may be sent again on the next pass.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchOnce(cmd.Context(), opts.cfg, publish)
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", true, "publish per-schedule events to connected dashboards")
	return cmd
}

func dispatchOnce(ctx context.Context, cfg *config.Config, publish bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var broker *sse.Broker
	if publish {
		redisClient, err := openRedis(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("dispatching without dashboard events")
		} else {
			defer redisClient.Close()
			broker = sse.NewBroker(redisClient)
			defer broker.Close()
		}
	}

	deps, err := buildDispatch(cfg, db, broker)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, config.DispatchRunTimeout)
	defer cancel()

	report, err := deps.engine.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	if n := report.MarkRunFailures(); n > 0 {
		return fmt.Errorf("dispatch: %d schedule(s) could not be marked as run and may be resent", n)
	}
	return nil
}
