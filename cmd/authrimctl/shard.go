package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/authrim/authrim/internal/shard"
)

func commandShard() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Inspect and resize a domain's shard-generation config",
	}
	cmd.AddCommand(commandShardInspect())
	cmd.AddCommand(commandShardSetCount())
	return cmd
}

func parseDomain(s string) (shard.Domain, error) {
	switch shard.Domain(s) {
	case shard.DomainSession, shard.DomainRefresh, shard.DomainRevocation, shard.DomainRegion:
		return shard.Domain(s), nil
	default:
		return "", fmt.Errorf("unknown shard domain %q (want session|refresh|revocation|region)", s)
	}
}

func commandShardInspect() *cobra.Command {
	var domainFlag string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a domain's current and retired shard generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, err := parseDomain(domainFlag)
			if err != nil {
				return err
			}
			cfg, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			dep := newDeployment(cfg)
			defer dep.close()

			gen, count, err := dep.router.CurrentShardCount(domain)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "domain=%s generation=%d shard_count=%d\n", domain, gen, count)
			return nil
		},
	}
	cmd.Flags().StringVar(&domainFlag, "domain", "", "Domain: session|refresh|revocation|region")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func commandShardSetCount() *cobra.Command {
	var domainFlag, updatedBy string
	var count int
	cmd := &cobra.Command{
		Use:   "set-count",
		Short: "Advance a domain to a new generation with a new shard count",
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, err := parseDomain(domainFlag)
			if err != nil {
				return err
			}
			cfg, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			dep := newDeployment(cfg)
			defer dep.close()

			next, err := dep.router.SetShardCount(domain, count, updatedBy, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "domain=%s advanced to generation=%d shard_count=%d\n", domain, next.CurrentGeneration, next.CurrentShardCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&domainFlag, "domain", "", "Domain: session|refresh|revocation|region")
	cmd.Flags().IntVar(&count, "count", 0, "New shard count")
	cmd.Flags().StringVar(&updatedBy, "updated-by", "authrimctl", "Operator identity recorded on the new generation")
	cmd.MarkFlagRequired("domain")
	cmd.MarkFlagRequired("count")
	return cmd
}
