package cmd

import (
	"fmt"
	"os"

	"github.com/arannis-dev/qlock/cmd/lock"
	"github.com/arannis-dev/qlock/cmd/serve"
	"github.com/arannis-dev/qlock/cmd/table"
	"github.com/arannis-dev/qlock/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "qlock",
		Short: "distributed lock manager",
		Long: fmt.Sprintf(`qlock (v%s)

A distributed lock manager written in Go, using a conditional-write
version-lease technique on top of a linearizable store backed either by an
in-process map or by RAFT consensus for fault tolerance.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of qlock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qlock v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(table.TableCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
