package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/tbxark/jobfill/profile"
	"github.com/tbxark/jobfill/types"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and edit the stored profile",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the profile as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(store profileStore, cmd *cobra.Command) error {
					doc, err := store.Load(cmd.Context())
					if err != nil {
						return err
					}
					out, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
					if err != nil {
						return fmt.Errorf("marshal profile: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(out))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <path> <value>",
			Short: "Write one value, e.g. profile set personal.email ada@example.com",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(store profileStore, cmd *cobra.Command) error {
					return store.Write(cmd.Context(), args[0], strings.TrimSpace(args[1]))
				})
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Replace the profile with a JSON document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read %s: %w", args[0], err)
				}
				var doc types.ProfileNode
				if err := sonic.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}
				return withStore(cmd, func(store profileStore, cmd *cobra.Command) error {
					user, _ := profile.UserIDFromContext(cmd.Context())
					return store.Put(cmd.Context(), user, doc)
				})
			},
		},
	)
	return cmd
}

func withStore(cmd *cobra.Command, fn func(profileStore, *cobra.Command) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var cl closers
	defer func() { _ = cl.Close() }()
	store, err := openProfileStore(cfg, &cl)
	if err != nil {
		return err
	}
	cmd.SetContext(profile.WithUserID(cmd.Context(), cfg.Profile.UserID))
	return fn(store, cmd)
}
