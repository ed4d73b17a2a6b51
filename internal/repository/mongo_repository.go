package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueueRepository queue 컬렉션 기반 대기열
type MongoQueueRepository struct {
	coll *mongo.Collection
}

func NewMongoQueueRepository(db *mongodb.DB) *MongoQueueRepository {
	return &MongoQueueRepository{coll: db.Database.Collection(mongodb.QueueCollection)}
}

func (r *MongoQueueRepository) Upsert(ctx context.Context, entry *models.QueueEntry) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"player_id": entry.PlayerID},
		bson.M{"$set": entry},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert queue entry: %w", err)
	}
	return nil
}

func (r *MongoQueueRepository) Restore(ctx context.Context, entry *models.QueueEntry) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"player_id": entry.PlayerID},
		bson.M{"$setOnInsert": entry},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to restore queue entry: %w", err)
	}
	return nil
}

func (r *MongoQueueRepository) Get(ctx context.Context, playerID string) (*models.QueueEntry, error) {
	entry, err := decodeQueueEntry(r.coll.FindOne(ctx, bson.M{"player_id": playerID}))
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

func (r *MongoQueueRepository) Delete(ctx context.Context, playerID string) (bool, error) {
	result, err := r.coll.DeleteOne(ctx, bson.M{"player_id": playerID})
	if err != nil {
		return false, fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// Claim FindOneAndDelete 는 단일 문서에 대해 원자적이다
func (r *MongoQueueRepository) Claim(ctx context.Context, observed *models.QueueEntry) (*models.QueueEntry, error) {
	filter := bson.M{
		"player_id": observed.PlayerID,
		"score":     observed.Score,
		"joined_at": observed.JoinedAt,
	}
	entry, err := decodeQueueEntry(r.coll.FindOneAndDelete(ctx, filter))
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	return entry, nil
}

func (r *MongoQueueRepository) FindOpponent(ctx context.Context, playerID string, score, window int) (*models.QueueEntry, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "player_id", Value: bson.D{{Key: "$ne", Value: playerID}}},
			{Key: "status", Value: models.QueueStatusWaiting},
			{Key: "score", Value: bson.D{
				{Key: "$gte", Value: score - window},
				{Key: "$lte", Value: score + window},
			}},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score_diff", Value: bson.D{
				{Key: "$abs", Value: bson.D{{Key: "$subtract", Value: bson.A{"$score", score}}}},
			}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "score_diff", Value: 1},
			{Key: "joined_at", Value: 1},
			{Key: "player_id", Value: 1},
		}}},
		{{Key: "$limit", Value: 1}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find opponent: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("failed to find opponent: %w", err)
		}
		return nil, nil
	}

	entry := &models.QueueEntry{}
	if err := cursor.Decode(entry); err != nil {
		return nil, fmt.Errorf("failed to decode opponent: %w", err)
	}
	entry.JoinedAt = entry.JoinedAt.UTC()
	return entry, nil
}

func (r *MongoQueueRepository) CountJoinedBefore(ctx context.Context, t time.Time) (int, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{"joined_at": bson.M{"$lt": t}})
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return int(count), nil
}

func (r *MongoQueueRepository) Stats(ctx context.Context) (*models.QueueStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: models.QueueStatusWaiting}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_score", Value: bson.D{{Key: "$avg", Value: "$score"}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total    int     `bson:"total"`
		AvgScore float64 `bson:"avg_score"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode queue stats: %w", err)
	}

	stats := &models.QueueStats{}
	if len(rows) > 0 {
		stats.TotalPlayers = rows[0].Total
		stats.AverageScore = rows[0].AvgScore
	}
	return stats, nil
}

// DeleteJoinedBefore 후보를 조회한 뒤 조건부로 하나씩 삭제한다.
// 그 사이 재참가한 플레이어는 joined_at 조건에 걸리지 않아 남는다.
func (r *MongoQueueRepository) DeleteJoinedBefore(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error) {
	filter := bson.M{"joined_at": bson.M{"$lt": cutoff}}

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"player_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find stale entries: %w", err)
	}
	var candidates []struct {
		PlayerID string `bson:"player_id"`
	}
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("failed to decode stale entries: %w", err)
	}

	var removed []*models.QueueEntry
	for _, c := range candidates {
		entry, err := decodeQueueEntry(r.coll.FindOneAndDelete(ctx, bson.M{
			"player_id": c.PlayerID,
			"joined_at": bson.M{"$lt": cutoff},
		}))
		if err != nil {
			return removed, fmt.Errorf("failed to delete stale entry: %w", err)
		}
		if entry != nil {
			removed = append(removed, entry)
		}
	}
	return removed, nil
}

func decodeQueueEntry(result *mongo.SingleResult) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{}
	err := result.Decode(entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry.JoinedAt = entry.JoinedAt.UTC()
	return entry, nil
}

// MongoMatchRepository matches 컬렉션 기반 매치 저장소
type MongoMatchRepository struct {
	coll *mongo.Collection
}

func NewMongoMatchRepository(db *mongodb.DB) *MongoMatchRepository {
	return &MongoMatchRepository{coll: db.Database.Collection(mongodb.MatchesCollection)}
}

func (r *MongoMatchRepository) Create(ctx context.Context, match *models.Match) error {
	if _, err := r.coll.InsertOne(ctx, match); err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *MongoMatchRepository) FindByID(ctx context.Context, id string) (*models.Match, error) {
	match, err := decodeMatch(r.coll.FindOne(ctx, bson.M{"_id": id}))
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	return match, nil
}

func (r *MongoMatchRepository) FindActiveByPlayer(ctx context.Context, playerID string) (*models.Match, error) {
	filter := bson.M{
		"status": models.MatchStatusActive,
		"$or": bson.A{
			bson.M{"player1_id": playerID},
			bson.M{"player2_id": playerID},
		},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	match, err := decodeMatch(r.coll.FindOne(ctx, filter, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to find active match: %w", err)
	}
	return match, nil
}

func (r *MongoMatchRepository) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.MatchStatusActive},
		bson.M{"$set": bson.M{
			"status":       models.MatchStatusCancelled,
			"cancelled_at": at,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel match: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func decodeMatch(result *mongo.SingleResult) (*models.Match, error) {
	match := &models.Match{}
	err := result.Decode(match)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	match.CreatedAt = match.CreatedAt.UTC()
	if match.CancelledAt != nil {
		t := match.CancelledAt.UTC()
		match.CancelledAt = &t
	}
	return match, nil
}
