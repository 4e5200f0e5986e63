package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/arannis-dev/qlock/cmd/util"
	"github.com/arannis-dev/qlock/lib/dlm"
	"github.com/arannis-dev/qlock/rpc/client"
	"github.com/spf13/cobra"
)

var (
	session *dlm.Session

	leaseSeconds   int64
	refreshSeconds int64
	acquireTimeout int64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform distributed lock operations",
		PersistentPreRunE: setupSession,
	}

	// acquireCmd acquires a lock and prints a serialized handle for handoff.
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock and print a serialized handle",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd releases a lock previously acquired with acquire.
	releaseCmd = &cobra.Command{
		Use:   "release [token]",
		Short: "Release a lock using a serialized handle",
		Long:  "Release a lock using the serialized handle token printed by the acquire command.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupRPCClientFlags(LockCommands)
	LockCommands.PersistentFlags().Int("shard", 1, util.WrapString("ID of the table shard to connect to"))
	LockCommands.PersistentFlags().String("table", "locks", util.WrapString("name of the table the lock belongs to"))

	acquireCmd.Flags().Int64Var(&leaseSeconds, "lease", int64(dlm.DefaultLeaseDuration.Seconds()), "lease duration in seconds")
	acquireCmd.Flags().Int64Var(&refreshSeconds, "refresh", int64(dlm.DefaultRefreshPeriod.Seconds()), "refresh cadence in seconds")
	acquireCmd.Flags().Int64Var(&acquireTimeout, "timeout", 0, "acquire timeout in seconds (0 waits indefinitely)")
}

// setupSession opens a dlm.Session backed by an RPC store.Adapter client
// bound to the configured shard.
func setupSession(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	shardId := util.GetShardID()
	table, _ := cmd.Flags().GetString("table")

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	adapter, err := client.NewRPCStoreAdapter(shardId, *config, t, s)
	if err != nil {
		return fmt.Errorf("failed to connect to shard: %w", err)
	}

	session, err = dlm.NewSession(adapter, table)
	return err
}

// runAcquire handles the acquire lock command.
func runAcquire(_ *cobra.Command, args []string) error {
	name := args[0]

	handle, err := session.CreateLock(
		name,
		dlm.WithHandleLeaseDuration(time.Duration(leaseSeconds)*time.Second),
		dlm.WithHandleRefreshPeriod(time.Duration(refreshSeconds)*time.Second),
		dlm.WithHandleAcquireTimeout(time.Duration(acquireTimeout)*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to create lock handle: %w", err)
	}

	if err := handle.Acquire(context.Background()); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	token, err := handle.Serialize()
	if err != nil {
		return fmt.Errorf("acquired lock but failed to serialize handle: %w", err)
	}

	fmt.Printf("acquired=true token=%s\n", token)
	return nil
}

// runRelease handles the release lock command.
func runRelease(_ *cobra.Command, args []string) error {
	token := []byte(args[0])

	handle, err := session.DeserializeLock(token)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	if err := handle.Release(context.Background()); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Println("released=true")
	return nil
}
