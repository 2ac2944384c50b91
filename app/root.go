// Package app implements the main application commands.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatewarden",
	Short: "GateWarden is a multi-tenant zero-trust access platform",
	Long: `GateWarden is a multi-tenant zero-trust access platform.
It synchronizes users, groups and memberships from external identity
providers (Microsoft Entra ID, Google Workspace, JumpCloud, LDAP) into
local access policy state.`,
	Args: cobra.OnlyValidArgs,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
