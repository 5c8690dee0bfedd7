package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	srv "github.com/mohammad-safakhou/growloop/internal/server"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/models"
)

func initAccountCMD() *cobra.Command {
	var cfgPath string
	var nicheFile string

	var initAccount = &cobra.Command{
		Use:   "init-account",
		Short: "Load the niche definition into the knowledge store",
		Long: `Reads the operator-authored niche YAML (identity, voice, content
pillars, avoid topics) and stores it for the configured account. Creation
cycles refuse to run until this has happened once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if nicheFile == "" {
				nicheFile = cfg.Account.NicheFile
			}
			if nicheFile == "" {
				return fmt.Errorf("no niche file (--niche or account.niche_file)")
			}

			raw, err := os.ReadFile(nicheFile)
			if err != nil {
				return err
			}
			var niche models.AccountNiche
			if err := yaml.Unmarshal(raw, &niche); err != nil {
				return fmt.Errorf("parsing %s: %w", nicheFile, err)
			}
			if niche.Niche == "" {
				return fmt.Errorf("%s: niche field is required", nicheFile)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			if err := srv.Migrate("file://migrations", dsn, "up", 0); err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			kb := knowledge.NewBase(st, cfg.Account.ID)
			if err := kb.SaveNicheConfig(ctx, niche); err != nil {
				return err
			}
			fmt.Printf("account %s initialized with niche %q (%d pillars)\n",
				cfg.Account.ID, niche.Niche, len(niche.ContentPillars))
			return nil
		},
	}
	initAccount.Flags().StringVar(&nicheFile, "niche", "", "niche YAML file (default account.niche_file)")
	initAccount.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return initAccount
}
