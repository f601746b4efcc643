package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alpacahq/oplogreplay/oplog"
)

// Destination applies replayed writes. It implements replication.Destination.
type Destination struct {
	client *mongo.Client
}

func NewDestination(client *mongo.Client) *Destination {
	return &Destination{client: client}
}

func (d *Destination) collection(ns oplog.Namespace) *mongo.Collection {
	return d.client.Database(ns.Database).Collection(ns.Collection)
}

func (d *Destination) Insert(ctx context.Context, ns oplog.Namespace, doc bson.D) error {
	_, err := d.collection(ns).InsertOne(ctx, doc)
	return classify(err, "insert into %s", ns)
}

func (d *Destination) Update(ctx context.Context, ns oplog.Namespace, selector, update bson.D, upsert bool) error {
	_, err := d.collection(ns).UpdateOne(ctx, selector, update, options.Update().SetUpsert(upsert))
	return classify(err, "update %s", ns)
}

func (d *Destination) Replace(ctx context.Context, ns oplog.Namespace, selector, doc bson.D, upsert bool) error {
	_, err := d.collection(ns).ReplaceOne(ctx, selector, doc, options.Replace().SetUpsert(upsert))
	return classify(err, "replace in %s", ns)
}

func (d *Destination) Delete(ctx context.Context, ns oplog.Namespace, selector bson.D) error {
	_, err := d.collection(ns).DeleteOne(ctx, selector)
	return classify(err, "delete from %s", ns)
}

// CreateIndex runs createIndexes so that every option of the source index is kept as is.
func (d *Destination) CreateIndex(ctx context.Context, spec oplog.IndexSpec) error {
	err := d.client.Database(spec.Namespace.Database).RunCommand(ctx, createIndexesCommand(spec)).Err()
	return classify(err, "create index %s on %s", spec.Name, spec.Namespace)
}

func (d *Destination) DropIndex(ctx context.Context, ns oplog.Namespace, name string) error {
	var err error
	if name == "*" {
		_, err = d.collection(ns).Indexes().DropAll(ctx)
	} else {
		_, err = d.collection(ns).Indexes().DropOne(ctx, name)
	}
	return classify(err, "drop index %s on %s", name, ns)
}

func (d *Destination) ListIndexes(ctx context.Context, ns oplog.Namespace) ([]string, error) {
	specs, err := d.collection(ns).Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, classify(err, "list indexes of %s", ns)
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names, nil
}

func (d *Destination) RunCommand(ctx context.Context, database string, cmd bson.D) error {
	err := d.client.Database(database).RunCommand(ctx, cmd).Err()
	return classify(err, "run command on %s", database)
}

func (d *Destination) ApplyOps(ctx context.Context, entries []*oplog.Entry) error {
	err := d.client.Database("admin").RunCommand(ctx, applyOpsCommand(entries)).Err()
	return classify(err, "applyOps of %d entries", len(entries))
}

func createIndexesCommand(spec oplog.IndexSpec) bson.D {
	index := bson.D{
		{Key: "key", Value: spec.Keys},
		{Key: "name", Value: spec.Name},
	}
	index = append(index, spec.Options...)
	return bson.D{
		{Key: "createIndexes", Value: spec.Namespace.Collection},
		{Key: "indexes", Value: bson.A{index}},
	}
}

// applyOpsCommand keeps only the fields applyOps accepts.
func applyOpsCommand(entries []*oplog.Entry) bson.D {
	ops := make(bson.A, 0, len(entries))
	for _, e := range entries {
		op := bson.D{
			{Key: "op", Value: string(e.Kind)},
			{Key: "ns", Value: e.Namespace},
			{Key: "o", Value: e.Object},
		}
		if len(e.Selector) > 0 {
			op = append(op, bson.E{Key: "o2", Value: e.Selector})
		}
		ops = append(ops, op)
	}
	return bson.D{{Key: "applyOps", Value: ops}}
}
