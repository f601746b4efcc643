package checkpoint

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/oplogreplay/mongodb"
	"github.com/alpacahq/oplogreplay/oplog"
	"github.com/alpacahq/oplogreplay/replication"
	"github.com/alpacahq/oplogreplay/utils/log"
)

const (
	checkpointUsage     = "checkpoint"
	checkpointShortDesc = "Inspects and edits the replay positions stored in a destination"
	checkpointLongDesc  = "This command reads and writes the oplogreplay.settings collection of a destination, " +
		"where the last replayed timestamp of every replica set is stored."
	checkpointExample = "oplogreplay checkpoint show backup:27017 --replSet rs0"

	connectTimeout = 10 * time.Second
)

// store is the part of mongodb.CheckpointStore the commands use.
type store interface {
	replication.CheckpointStore
	List(ctx context.Context) ([]mongodb.Checkpoint, error)
}

// openStore connects to a destination. The returned function closes the connection.
var openStore = func(ctx context.Context, uri string) (store, func(), error) {
	client, err := mongodb.Connect(ctx, uri, mongodb.ClientOptions{ConnectTimeout: connectTimeout})
	if err != nil {
		return nil, nil, err
	}
	return mongodb.NewCheckpointStore(client), func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Debug("failed to disconnect: %v", err)
		}
	}, nil
}

// NewCommand returns the checkpoint command and its subcommands.
func NewCommand() *cobra.Command {
	var replicaSet string
	c := &cobra.Command{
		Use:        checkpointUsage,
		Short:      checkpointShortDesc,
		Long:       checkpointLongDesc,
		Aliases:    []string{"cp"},
		SuggestFor: []string{"position", "resume"},
		Example:    checkpointExample,
	}
	c.PersistentFlags().StringVarP(&replicaSet, "replSet", "r", "", "replica set name the checkpoint belongs to")

	c.AddCommand(&cobra.Command{
		Use:   "show <destination>",
		Short: "Print the checkpoint of a replica set",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s store, args []string) error {
			key, err := keyOf(replicaSet)
			if err != nil {
				return err
			}
			ts, ok, err := s.Load(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no checkpoint for replica set %s", replicaSet)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", oplog.FormatTimestamp(ts), oplog.Time(ts).Format(time.RFC3339))
			return nil
		}),
	})

	c.AddCommand(&cobra.Command{
		Use:   "set <destination> <seconds>[:<increment>]",
		Short: "Overwrite the checkpoint of a replica set",
		Args:  cobra.ExactArgs(2),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s store, args []string) error {
			key, err := keyOf(replicaSet)
			if err != nil {
				return err
			}
			ts, err := oplog.ParseTimestamp(args[1])
			if err != nil {
				return err
			}
			if err = s.Save(ctx, key, ts); err != nil {
				return err
			}
			log.Info("checkpoint of %s set to %s", replicaSet, oplog.FormatTimestamp(ts))
			return nil
		}),
	})

	c.AddCommand(&cobra.Command{
		Use:   "reset <destination>",
		Short: "Delete the checkpoint of a replica set, the next replay starts from the newest entry",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s store, args []string) error {
			key, err := keyOf(replicaSet)
			if err != nil {
				return err
			}
			if err = s.Delete(ctx, key); err != nil {
				return err
			}
			log.Info("checkpoint of %s deleted", replicaSet)
			return nil
		}),
	})

	c.AddCommand(&cobra.Command{
		Use:   "list <destination>",
		Short: "Print every checkpoint stored in the destination as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, s store, args []string) error {
			checkpoints, err := s.List(ctx)
			if err != nil {
				return err
			}
			return writeCSV(cmd.OutOrStdout(), checkpoints)
		}),
	})
	return c
}

func withStore(run func(ctx context.Context, cmd *cobra.Command, s store, args []string) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		s, closeFn, err := openStore(ctx, args[0])
		if err != nil {
			return err
		}
		defer closeFn()
		cmd.SilenceUsage = true
		return run(ctx, cmd, s, args)
	}
}

func keyOf(replicaSet string) (string, error) {
	if replicaSet == "" {
		return "", errors.New("--replSet is required")
	}
	return replication.CheckpointKey(replicaSet), nil
}

type checkpointRow struct {
	ReplicaSet string `csv:"replica_set"`
	Timestamp  string `csv:"timestamp"`
	Time       string `csv:"time"`
}

func writeCSV(w io.Writer, checkpoints []mongodb.Checkpoint) error {
	rows := make([]*checkpointRow, 0, len(checkpoints))
	for _, cp := range checkpoints {
		rows = append(rows, &checkpointRow{
			ReplicaSet: cp.ReplicaSet,
			Timestamp:  oplog.FormatTimestamp(cp.Timestamp),
			Time:       oplog.Time(cp.Timestamp).Format(time.RFC3339),
		})
	}
	return gocsv.Marshal(rows, w)
}
