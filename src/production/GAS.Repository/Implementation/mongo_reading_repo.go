package implementation

import (
	"context"
	"fmt"
	"time"

	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
	interfaces "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// readingDocument is the persisted shape of a SensorReading, one document per reading.
type readingDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	DeviceID   string             `bson:"device_id"`
	RawValue   *float64           `bson:"raw_value,omitempty"`
	Voltage    *float64           `bson:"voltage,omitempty"`
	Resistance *float64           `bson:"resistance,omitempty"`
	Ratio      *float64           `bson:"ratio,omitempty"`
	AlcoholPPM float64            `bson:"alcohol_ppm"`
	Timestamp  time.Time          `bson:"timestamp"`
	ReceivedAt time.Time          `bson:"received_at"`
}

type statisticsDocument struct {
	AvgPpm float64 `bson:"avgPpm"`
	MaxPpm float64 `bson:"maxPpm"`
	MinPpm float64 `bson:"minPpm"`
	Count  int64   `bson:"count"`
}

type MongoReadingRepository struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

func NewMongoReadingRepository(coll *mongo.Collection, opTimeout time.Duration) *MongoReadingRepository {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &MongoReadingRepository{coll: coll, opTimeout: opTimeout}
}

// EnsureIndexes creates the timestamp and device indexes used by ListReadings.
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return &interfaces.StoreError{Op: "create indexes", Err: err}
	}
	return nil
}

func (r *MongoReadingRepository) InsertReading(ctx context.Context, reading gasmodels.SensorReading) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	res, err := r.coll.InsertOne(ctx, toDocument(reading))
	if err != nil {
		return "", &interfaces.StoreError{Op: "insert", Err: err}
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", &interfaces.StoreError{Op: "insert", Err: fmt.Errorf("unexpected inserted id type %T", res.InsertedID)}
	}
	return oid.Hex(), nil
}

func (r *MongoReadingRepository) ListReadings(ctx context.Context, query interfaces.ReadingQuery) ([]gasmodels.SensorReading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	filter := bson.M{}
	if query.From != nil || query.To != nil {
		window := bson.M{}
		if query.From != nil {
			window["$gte"] = *query.From
		}
		if query.To != nil {
			window["$lte"] = *query.To
		}
		filter["timestamp"] = window
	}
	if query.DeviceID != "" {
		filter["device_id"] = query.DeviceID
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, &interfaces.StoreError{Op: "find", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []readingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &interfaces.StoreError{Op: "find", Err: err}
	}

	readings := make([]gasmodels.SensorReading, 0, len(docs))
	for _, doc := range docs {
		readings = append(readings, fromDocument(doc))
	}
	return readings, nil
}

func (r *MongoReadingRepository) GetStatistics(ctx context.Context) (gasmodels.Statistics, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avgPpm", Value: bson.D{{Key: "$avg", Value: "$alcohol_ppm"}}},
			{Key: "maxPpm", Value: bson.D{{Key: "$max", Value: "$alcohol_ppm"}}},
			{Key: "minPpm", Value: bson.D{{Key: "$min", Value: "$alcohol_ppm"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return gasmodels.Statistics{}, &interfaces.StoreError{Op: "aggregate", Err: err}
	}
	defer cursor.Close(ctx)

	var results []statisticsDocument
	if err := cursor.All(ctx, &results); err != nil {
		return gasmodels.Statistics{}, &interfaces.StoreError{Op: "aggregate", Err: err}
	}
	if len(results) == 0 {
		return gasmodels.Statistics{}, nil
	}

	stats := results[0]
	return gasmodels.Statistics{
		AvgPpm: stats.AvgPpm,
		MaxPpm: stats.MaxPpm,
		MinPpm: stats.MinPpm,
		Count:  stats.Count,
	}, nil
}

func (r *MongoReadingRepository) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return &interfaces.StoreError{Op: "ping", Err: err}
	}
	return nil
}

func (r *MongoReadingRepository) Close(ctx context.Context) error {
	return r.coll.Database().Client().Disconnect(ctx)
}

func toDocument(reading gasmodels.SensorReading) readingDocument {
	doc := readingDocument{
		DeviceID:   reading.DeviceID,
		RawValue:   reading.RawValue,
		Voltage:    reading.Voltage,
		Resistance: reading.Resistance,
		Ratio:      reading.Ratio,
		AlcoholPPM: reading.AlcoholPPM,
		ReceivedAt: reading.ReceivedAt,
		Timestamp:  reading.ReceivedAt,
	}
	if reading.Timestamp != nil {
		doc.Timestamp = *reading.Timestamp
	}
	if oid, err := primitive.ObjectIDFromHex(reading.ID); err == nil {
		doc.ID = oid
	}
	return doc
}

func fromDocument(doc readingDocument) gasmodels.SensorReading {
	ts := doc.Timestamp.UTC()
	return gasmodels.SensorReading{
		ID:         doc.ID.Hex(),
		DeviceID:   doc.DeviceID,
		RawValue:   doc.RawValue,
		Voltage:    doc.Voltage,
		Resistance: doc.Resistance,
		Ratio:      doc.Ratio,
		AlcoholPPM: doc.AlcoholPPM,
		Timestamp:  &ts,
		ReceivedAt: doc.ReceivedAt.UTC(),
	}
}
