package di

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/multierr"

	"github.com/alpacahq/oplogreplay/metrics"
	"github.com/alpacahq/oplogreplay/mongodb"
	"github.com/alpacahq/oplogreplay/replication"
	"github.com/alpacahq/oplogreplay/utils"
)

// Container builds the object graph of a replay lazily and owns the connections it opened.
type Container struct {
	cfg             *utils.ReplayConfig
	registerer      prometheus.Registerer
	replicaSet      string
	sourceClient    *mongo.Client
	destClient      *mongo.Client
	source          *mongodb.Source
	destination     *mongodb.Destination
	checkpointStore *mongodb.CheckpointStore
	observer        *metrics.Observer
	replayer        *replication.Replayer
}

func NewContainer(cfg *utils.ReplayConfig) *Container {
	return &Container{cfg: cfg, registerer: prometheus.DefaultRegisterer}
}

// WithRegisterer replaces the registerer the metrics are exported to.
func (c *Container) WithRegisterer(reg prometheus.Registerer) *Container {
	c.registerer = reg
	return c
}

func (c *Container) Config() *utils.ReplayConfig {
	return c.cfg
}

// Close disconnects every client opened by the container.
func (c *Container) Close(ctx context.Context) error {
	var err error
	if c.sourceClient != nil {
		err = multierr.Append(err, c.sourceClient.Disconnect(ctx))
		c.sourceClient = nil
	}
	if c.destClient != nil {
		err = multierr.Append(err, c.destClient.Disconnect(ctx))
		c.destClient = nil
	}
	return err
}
