package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Syncre-App/chatcore/internal/cli"
	"github.com/Syncre-App/chatcore/internal/version"
)

var (
	showQR     bool
	includePIN bool
)

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store the bearer token issued by the Syncre app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		return cli.LoginCommand(cmd.Context(), app, args[0], cmd.OutOrStdout())
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored bearer token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		return cli.LogoutCommand(app, cmd.OutOrStdout())
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock end-to-end encryption with your PIN",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		return cli.UnlockCommand(cmd.Context(), app, cli.TerminalPIN(os.Stderr), cmd.OutOrStdout())
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show this device's identity and encryption state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		return cli.IdentityCommand(app, showQR, cmd.OutOrStdout())
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the cached identity from this device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		return cli.ResetCommand(app, includePIN, cmd.OutOrStdout())
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats with unread counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		return cli.ChatsCommand(cmd.Context(), app, cmd.OutOrStdout())
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <id>",
	Short: "Open an interactive session in a chat",
	Long: `Open an interactive session in a chat.

Each line typed is sent as a message. Type /older to load earlier
history and /quit to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		session := &cli.ChatSession{
			App:     app,
			ChatID:  args[0],
			ReadPIN: cli.TerminalPIN(os.Stderr),
			In:      cmd.InOrStdin(),
			Out:     cmd.OutOrStdout(),
		}
		return session.Run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "syncre %s\n", version.RichVersion())
	},
}

func init() {
	identityCmd.Flags().BoolVar(&showQR, "qr", false,
		"Render the public key as a QR code")
	resetCmd.Flags().BoolVar(&includePIN, "include-pin", false,
		"Also forget the remembered PIN")

	rootCmd.AddCommand(loginCmd, logoutCmd, unlockCmd, identityCmd,
		resetCmd, chatsCmd, chatCmd, versionCmd)
}
