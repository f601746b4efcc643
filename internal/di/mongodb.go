package di

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/alpacahq/oplogreplay/mongodb"
	"github.com/alpacahq/oplogreplay/replication"
	"github.com/alpacahq/oplogreplay/utils/log"
)

const (
	connectAttempts  = 3
	connectRetryWait = time.Second
)

// GetReplicaSet returns the configured replica set, or asks the source with a probe connection.
func (c *Container) GetReplicaSet(ctx context.Context) (string, error) {
	if c.replicaSet != "" {
		return c.replicaSet, nil
	}
	if c.cfg.ReplicaSet != "" {
		c.replicaSet = c.cfg.ReplicaSet
		return c.replicaSet, nil
	}
	name, err := mongodb.DiscoverReplicaSet(ctx, c.cfg.Source)
	if err != nil {
		return "", errors.Wrapf(replication.ErrReplicaSetUnknown, "%v", err)
	}
	log.Info("source belongs to replica set %s", name)
	c.replicaSet = name
	return c.replicaSet, nil
}

// GetSourceClient connects to the source replica set, preferring secondaries.
func (c *Container) GetSourceClient(ctx context.Context) (*mongo.Client, error) {
	if c.sourceClient != nil {
		return c.sourceClient, nil
	}
	rs, err := c.GetReplicaSet(ctx)
	if err != nil {
		return nil, err
	}
	client, err := mongodb.ConnectWithRetry(ctx, c.cfg.Source,
		mongodb.ClientOptions{ReplicaSet: rs, SecondaryPreferred: true}, connectAttempts, connectRetryWait)
	if err != nil {
		return nil, err
	}
	c.sourceClient = client
	return c.sourceClient, nil
}

func (c *Container) GetDestinationClient(ctx context.Context) (*mongo.Client, error) {
	if c.destClient != nil {
		return c.destClient, nil
	}
	client, err := mongodb.ConnectWithRetry(ctx, c.cfg.Destination, mongodb.ClientOptions{}, connectAttempts, connectRetryWait)
	if err != nil {
		return nil, err
	}
	c.destClient = client
	return c.destClient, nil
}

func (c *Container) GetSource(ctx context.Context) (*mongodb.Source, error) {
	if c.source != nil {
		return c.source, nil
	}
	client, err := c.GetSourceClient(ctx)
	if err != nil {
		return nil, err
	}
	c.source = mongodb.NewSource(client)
	return c.source, nil
}

func (c *Container) GetDestination(ctx context.Context) (*mongodb.Destination, error) {
	if c.destination != nil {
		return c.destination, nil
	}
	client, err := c.GetDestinationClient(ctx)
	if err != nil {
		return nil, err
	}
	c.destination = mongodb.NewDestination(client)
	return c.destination, nil
}

func (c *Container) GetCheckpointStore(ctx context.Context) (*mongodb.CheckpointStore, error) {
	if c.checkpointStore != nil {
		return c.checkpointStore, nil
	}
	client, err := c.GetDestinationClient(ctx)
	if err != nil {
		return nil, err
	}
	c.checkpointStore = mongodb.NewCheckpointStore(client)
	return c.checkpointStore, nil
}
