// PicoBridge - Telegram <-> Discord message relay
// License: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/picobridge/cmd/picobridge/internal"
	"github.com/tinyland-inc/picobridge/cmd/picobridge/internal/run"
	"github.com/tinyland-inc/picobridge/cmd/picobridge/internal/version"
)

func NewPicobridgeCommand() *cobra.Command {
	short := fmt.Sprintf("%s picobridge - Telegram <-> Discord relay v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "picobridge",
		Short:   short,
		Example: "picobridge run",
	}

	cmd.AddCommand(
		run.NewRunCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewPicobridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
