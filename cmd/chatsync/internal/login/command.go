package login

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bookline/chatsync/pkg/auth"
)

func NewLoginCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the chat API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cred, err := auth.LoginPasteToken(os.Stdin)
			if err != nil {
				return err
			}
			cred.UserID = user

			path := auth.CredentialsPath()
			if err := auth.Save(path, cred); err != nil {
				return fmt.Errorf("error saving credential: %w", err)
			}
			fmt.Printf("✓ Credential saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Identity to associate with the token")

	return cmd
}
