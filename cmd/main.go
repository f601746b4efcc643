package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alpacahq/oplogreplay/cmd/checkpoint"
	"github.com/alpacahq/oplogreplay/utils"
)

const (
	usage = "oplogreplay [flags] <source> <destination>"
	short = "Replay the oplog of a MongoDB replica set onto another deployment"
	long  = "This command tails the oplog of the source replica set and applies every write to the destination, " +
		"saving its position in the destination so that it resumes where it stopped."
	example = "oplogreplay --replSet rs0 db1:27017 backup:27017"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	f := &replayFlags{}
	// printVersion set flag to show current oplogreplay version.
	var printVersion bool
	// c is the root command.
	c := &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		Args:    cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if printVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "version: %+v\ncommit hash: %+v\nutc build time: %+v\n",
					utils.Tag, utils.GitHash, utils.BuildStamp)
				return nil
			}
			return executeReplay(cmd, args, f)
		},
	}

	// Adds subcommands and flags.
	c.AddCommand(checkpoint.NewCommand())
	f.register(c)
	c.Flags().BoolVar(&printVersion, "version", false, "show the version info and exit")
	return c
}

// Execute builds the command tree and executes commands.
func Execute() error {
	return NewRootCommand().Execute()
}
