package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/service"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

func newPromoteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <phone>",
		Short: "Grant the admin role to an account that has already logged in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			cipher, err := credentialCipher(opts.cfg)
			if err != nil {
				return err
			}

			identifier := util.NormalizeIdentifier(args[0])
			admin := service.NewAdminService(repository.NewAccountRepository(db.DB, cipher))
			account, err := admin.Promote(context.Background(), identifier)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", util.MaskIdentifier(account.Identifier), account.Role)
			return nil
		},
	}
}
