// Package mongodb implements the replication source, destination and checkpoint store
// on top of the official MongoDB driver.
package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gopkg.in/matryer/try.v1"

	"github.com/alpacahq/oplogreplay/utils/log"
)

const defaultConnectTimeout = 10 * time.Second

// ClientOptions configures a connection.
type ClientOptions struct {
	// ReplicaSet scopes the connection to the named replica set.
	ReplicaSet string
	// SecondaryPreferred reads from secondaries when one is available.
	SecondaryPreferred bool
	// ConnectTimeout bounds dialing and server selection. Defaults to 10s.
	ConnectTimeout time.Duration
}

// Connect dials uri ("mongodb://host:port" or a bare "host:port") and checks the server answers.
func Connect(ctx context.Context, uri string, opts ClientOptions) (*mongo.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	co := options.Client().
		ApplyURI(normalizeURI(uri)).
		SetConnectTimeout(opts.ConnectTimeout).
		SetServerSelectionTimeout(opts.ConnectTimeout)
	if opts.ReplicaSet != "" {
		co.SetReplicaSet(opts.ReplicaSet)
	}
	if opts.SecondaryPreferred {
		co.SetReadPreference(readpref.SecondaryPreferred())
	}

	client, err := mongo.Connect(ctx, co)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", redact(uri))
	}
	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err = client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "failed to reach %s", redact(uri))
	}
	log.Debug("connected to %s", redact(uri))
	return client, nil
}

// ConnectWithRetry calls Connect up to attempts times, waiting wait between two attempts.
func ConnectWithRetry(ctx context.Context, uri string, opts ClientOptions, attempts int, wait time.Duration,
) (*mongo.Client, error) {
	var client *mongo.Client
	err := try.Do(func(attempt int) (bool, error) {
		var err error
		client, err = Connect(ctx, uri, opts)
		if err == nil {
			return false, nil
		}
		if attempt >= attempts {
			return false, err
		}
		log.Warn("failed to connect to %s (attempt %d/%d), retrying in %v: %v", redact(uri), attempt, attempts, wait, err)
		select {
		case <-ctx.Done():
			return false, err
		case <-time.After(wait):
			return true, err
		}
	})
	return client, err
}

// DiscoverReplicaSet opens a short-lived connection to uri and returns the replica set it belongs to.
func DiscoverReplicaSet(ctx context.Context, uri string) (string, error) {
	client, err := Connect(ctx, uri, ClientOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err2 := client.Disconnect(ctx); err2 != nil {
			log.Debug("failed to close the probe connection: %v", err2)
		}
	}()
	return replicaSetName(ctx, client)
}

type helloReply struct {
	SetName string `bson:"setName"`
}

// replicaSetName asks the server with hello, falling back to isMaster on servers older than 4.4.
func replicaSetName(ctx context.Context, client *mongo.Client) (string, error) {
	admin := client.Database("admin")
	var reply helloReply
	err := admin.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		err = admin.RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}}).Decode(&reply)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to identify the replica set")
	}
	if reply.SetName == "" {
		return "", errors.New("server is not a replica set member")
	}
	return reply.SetName, nil
}
