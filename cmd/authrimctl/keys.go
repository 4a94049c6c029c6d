package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"
)

func commandKeys() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and rotate a tenant's signing keys",
	}
	cmd.AddCommand(commandKeysJWKS())
	cmd.AddCommand(commandKeysRotate())
	return cmd
}

func commandKeysJWKS() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Print a tenant's public JWKS document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			dep := newDeployment(cfg)
			defer dep.close()

			set, err := dep.keyRing(tenant, false).JWKS(context.Background())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(set, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func commandKeysRotate() *cobra.Command {
	var tenant, alg string
	var validFor time.Duration
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Retire a tenant's active signing key for an algorithm and mint a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			dep := newDeployment(cfg)
			defer dep.close()

			sk, err := dep.keyRing(tenant, false).Rotate(context.Background(), jose.SignatureAlgorithm(alg), validFor, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("rotated %s: new active key id %s\n", alg, sk.KeyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&alg, "alg", "RS256", "Signature algorithm to rotate")
	cmd.Flags().DurationVar(&validFor, "retire-for", 24*time.Hour, "How long the retired key stays valid for signature verification")
	cmd.MarkFlagRequired("tenant")
	return cmd
}
