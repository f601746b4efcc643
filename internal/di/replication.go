package di

import (
	"context"

	"github.com/alpacahq/oplogreplay/metrics"
	"github.com/alpacahq/oplogreplay/replication"
)

func (c *Container) GetObserver() *metrics.Observer {
	if c.observer != nil {
		return c.observer
	}
	c.observer = metrics.NewObserver(c.registerer, nil)
	return c.observer
}

// ReplayerOptions maps the configuration onto the replayer options.
func (c *Container) ReplayerOptions(replicaSet string) replication.ReplayerOptions {
	return replication.ReplayerOptions{
		ReplicaSet:    replicaSet,
		StartPosition: c.cfg.StartPosition,
		SkipIndexes:   !c.cfg.ReplayIndexes,
		Watcher: replication.WatcherOptions{
			PollInterval:      c.cfg.PollInterval,
			Database:          c.cfg.Database,
			Collection:        c.cfg.Collection,
			Databases:         c.cfg.Databases,
			RetryBackoffCoeff: c.cfg.RetryBackoffCoeff,
			MaxRetryInterval:  c.cfg.MaxRetryInterval,
		},
		Observer:        c.GetObserver(),
		ReportEvery:     c.cfg.ReportEvery,
		InfoReportEvery: c.cfg.InfoReportEvery,
	}
}

// GetReplayer connects to both deployments and builds the replayer.
func (c *Container) GetReplayer(ctx context.Context) (*replication.Replayer, error) {
	if c.replayer != nil {
		return c.replayer, nil
	}
	rs, err := c.GetReplicaSet(ctx)
	if err != nil {
		return nil, err
	}
	src, err := c.GetSource(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := c.GetDestination(ctx)
	if err != nil {
		return nil, err
	}
	store, err := c.GetCheckpointStore(ctx)
	if err != nil {
		return nil, err
	}
	r, err := replication.NewReplayer(ctx, src, dst, store, c.ReplayerOptions(rs))
	if err != nil {
		return nil, err
	}
	c.replayer = r
	return c.replayer, nil
}
