package table

import (
	"fmt"
	"strings"

	"github.com/arannis-dev/qlock/cmd/util"
	"github.com/arannis-dev/qlock/rpc/client"
	"github.com/spf13/cobra"
)

var (
	admin *client.RPCTableAdminClient

	// TableCommands represents the table administration command group.
	TableCommands = &cobra.Command{
		Use:               "table",
		Short:             "Create, delete and list tables on a qlock server",
		PersistentPreRunE: setupAdminClient,
	}

	createCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new memory-backed table",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a table",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List every known table",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	TableCommands.AddCommand(createCmd)
	TableCommands.AddCommand(deleteCmd)
	TableCommands.AddCommand(listCmd)

	util.SetupRPCClientFlags(TableCommands)
}

func setupAdminClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	admin, err = client.NewRPCTableAdminClient(*config, t, s)
	return err
}

func runCreate(_ *cobra.Command, args []string) error {
	if err := admin.CreateTable(args[0]); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			fmt.Println("already exists")
			return nil
		}
		return fmt.Errorf("failed to create table: %w", err)
	}
	fmt.Println("created successfully")
	return nil
}

func runDelete(_ *cobra.Command, args []string) error {
	if err := admin.DeleteTable(args[0]); err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			fmt.Println("does not exist")
			return nil
		}
		return fmt.Errorf("failed to delete table: %w", err)
	}
	fmt.Println("deleted successfully")
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	tables, err := admin.ListTables()
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		fmt.Println(t)
	}
	return nil
}
