package reconcile

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RunArchive retains reconciliation summaries for the operations dashboard.
// Summaries hold counts and structural reasons only, so the archive stays
// free of PHI.
type RunArchive interface {
	Save(ctx context.Context, summary *Summary) error
	List(ctx context.Context, limit int64) ([]Summary, error)
}

type mongoArchive struct {
	coll *mongo.Collection
}

// NewMongoArchive stores run summaries in the "reconciliation_runs"
// collection of the given database.
func NewMongoArchive(db *mongo.Database) RunArchive {
	return &mongoArchive{coll: db.Collection("reconciliation_runs")}
}

func (a *mongoArchive) Save(ctx context.Context, summary *Summary) error {
	if _, err := a.coll.InsertOne(ctx, summary); err != nil {
		return fmt.Errorf("archive run %s: %w", summary.RunID, err)
	}
	return nil
}

func (a *mongoArchive) List(ctx context.Context, limit int64) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := a.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var runs []Summary
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
