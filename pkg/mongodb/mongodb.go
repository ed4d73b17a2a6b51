package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	QueueCollection   = "queue"
	MatchesCollection = "matches"
)

type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect MongoDB 연결
func Connect(ctx context.Context, uri, database string) (*DB, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo URL is empty")
	}
	if database == "" {
		return nil, fmt.Errorf("mongo database name is empty")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(25).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}

	// 연결 테스트
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger.Info("MongoDB connected successfully", "database", database)

	return &DB{Client: client, Database: client.Database(database)}, nil
}

// EnsureIndexes 대기열/매치 컬렉션 인덱스 생성
func (db *DB) EnsureIndexes(ctx context.Context) error {
	queue := db.Database.Collection(QueueCollection)
	_, err := queue.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "player_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "joined_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "score", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create queue indexes: %w", err)
	}

	matches := db.Database.Collection(MatchesCollection)
	_, err = matches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "player1_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "player2_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create match indexes: %w", err)
	}
	return nil
}

// Close 연결 종료
func (db *DB) Close(ctx context.Context) error {
	return db.Client.Disconnect(ctx)
}

// Ping 헬스체크용 연결 확인
func (db *DB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx, nil)
}
