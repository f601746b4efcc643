package replication

/**
This package is for the oplog replication feature of oplogreplay.
Replication is based on the oplog (local.oplog.rs) of a source replica set.
A replication run is made of the following 2 parts:

- Watcher
	Watcher tails the source oplog from a known position with a tailable cursor
	and hands every entry, in oplog order, to a Processor.
	When the cursor dies or the connection is lost, the watcher backs off and
	reopens a cursor from the last position it handed off successfully.

- Replayer
	Replayer is the Processor that applies each entry to a destination deployment
	and persists the position of the entry as a checkpoint in the destination.
	Restarting a replayer resumes right after the checkpoint, so entries are
	delivered at least once and never skipped.

Only one replayer may write a given (destination, replica set) checkpoint at a time.
*/
