package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func commandTombstones() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "tombstones",
		Short: "Run a one-shot GDPR tombstone cleanup sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			dep := newDeployment(cfg)
			defer dep.close()

			res, err := dep.tombstones().Cleanup(context.Background(), dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("would delete %d expired tombstone(s)\n", len(res.Deleted))
			} else {
				fmt.Printf("deleted %d expired tombstone(s)\n", len(res.Deleted))
			}
			for _, t := range res.Deleted {
				fmt.Printf("  tenant=%s user=%s expired_at=%s\n", t.TenantID, t.UserID, t.ExpiresAt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	return cmd
}
