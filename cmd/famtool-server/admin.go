package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	adminCmd := &cobra.Command{Use: "admin", Short: "Manage admin accounts"}

	grantCmd := &cobra.Command{
		Use:   "grant UID",
		Short: "Give an account admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if err := a.Admins.Grant(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "granted admin to %s\n", args[0])
			return nil
		},
	}
	adminCmd.AddCommand(grantCmd)

	revokeCmd := &cobra.Command{
		Use:   "revoke UID",
		Short: "Remove an account's admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			if err := a.Admins.Revoke(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "revoked admin from %s\n", args[0])
			return nil
		},
	}
	adminCmd.AddCommand(revokeCmd)

	rootCmd.AddCommand(adminCmd)
}
