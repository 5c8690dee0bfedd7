package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/growloop/config"
	srv "github.com/mohammad-safakhou/growloop/internal/server"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var cycleID string

	var run = &cobra.Command{
		Use:       "run [creation|learning]",
		Short:     "Run one cycle and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"creation", "learning"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()

			loop, err := srv.BuildLoop(ctx, cfg)
			if err != nil {
				return err
			}
			defer loop.Close()

			switch args[0] {
			case "creation":
				out, id, err := loop.Orch.RunCreationCycle(ctx, cycleID)
				if err != nil {
					return err
				}
				fmt.Printf("creation cycle %s: %s\n", id, out)
			case "learning":
				report, err := loop.Orch.RunLearningCycle(ctx, cycleID)
				if err != nil {
					return err
				}
				fmt.Printf("learning cycle: collected=%d still_pending=%d patterns=%d strategy_updated=%v\n",
					report.Collected, report.StillPending, report.PatternsUpdated, report.StrategyUpdated)
			default:
				return fmt.Errorf("unknown cycle kind %q", args[0])
			}
			return nil
		},
	}
	run.Flags().StringVar(&cycleID, "cycle-id", "", "explicit cycle id (defaults to a fresh uuid)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
