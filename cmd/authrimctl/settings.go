package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/authrim/authrim/internal/settings"
)

func commandSettings() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Validate and inspect platform settings profiles",
	}
	cmd.AddCommand(commandSettingsLoadProfile())
	return cmd
}

// defaultRegistry is the category schema this CLI validates profiles
// against. A deployment's actual registry is assembled by whatever process
// wires internal/settings.Store into the request path; this one exists so
// `settings load-profile` can validate a profile file before it ships.
func defaultRegistry() *settings.Registry {
	return settings.NewRegistry(
		settings.Category{
			Name: "branding",
			Keys: map[string]settings.KeySpec{
				"logo_url":      {Default: ""},
				"support_email": {Default: ""},
				"theme": {Default: "light", Validate: func(v interface{}) error {
					s, _ := v.(string)
					if s != "light" && s != "dark" {
						return fmt.Errorf("theme must be light or dark")
					}
					return nil
				}},
			},
		},
		settings.Category{
			Name: "mfa_policy",
			Keys: map[string]settings.KeySpec{
				"required":     {Default: false},
				"allowed_amrs": {Default: []interface{}{"otp", "webauthn"}},
			},
		},
		settings.Category{
			Name: "session_policy",
			Keys: map[string]settings.KeySpec{
				"idle_timeout_seconds":     {Default: float64(1800)},
				"absolute_timeout_seconds": {Default: float64(43200)},
			},
		},
		settings.Category{
			Name:         "infrastructure",
			PlatformOnly: true,
			Keys: map[string]settings.KeySpec{
				"shard_count": {Default: float64(64)},
			},
		},
	)
}

func commandSettingsLoadProfile() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load-profile <file>",
		Short: "Load a platform settings profile and print its effective values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read profile: %w", err)
			}

			store := settings.New(defaultRegistry())
			if err := store.LoadPlatformProfile(doc); err != nil {
				return fmt.Errorf("load profile: %w", err)
			}

			for _, category := range []string{"branding", "mfa_policy", "session_policy", "infrastructure"} {
				eff, err := store.Read(settings.ScopePlatform, category, settings.Owner{})
				if err != nil {
					return err
				}
				fmt.Printf("category=%s version=%d\n", eff.Category, eff.Version)
				for k, v := range eff.Values {
					fmt.Printf("  %s = %v (%s)\n", k, v, eff.Sources[k])
				}
			}
			return nil
		},
	}
	return cmd
}
