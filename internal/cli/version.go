package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hospos/internal/buildinfo"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "hospos %s\n", buildinfo.String())
			return err
		},
	}
}
