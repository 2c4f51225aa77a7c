package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/wamorph/db"
	"github.com/quailyquaily/wamorph/internal/settings"
)

func settingsFromViper() (*settings.Store, error) {
	dbCfg := db.DefaultConfig()
	dbCfg.DSN = viper.GetString("db.dsn")
	dbCfg.AutoMigrate = viper.GetBool("db.auto_migrate")
	gdb, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	return settings.New(gdb)
}

func newBlockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <sender-id>",
		Short: "Add a sender to the blocklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := settingsFromViper()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := st.Block(ctx, args[0], reason); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "blocked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason kept alongside the blocklist entry.")
	return cmd
}

func newUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <sender-id>",
		Short: "Remove a sender from the blocklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := settingsFromViper()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := st.Unblock(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", args[0])
			return nil
		},
	}
}
