// Package mongo stores issued login codes in MongoDB. Documents expire through a TTL index
// on expires_at, so the collection never needs manual cleanup.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/boliseva-loan-ledger/internal/domain/otp"
)

const (
	// OTPAttemptCollectionName is the name of the OTP attempt collection in MongoDB
	OTPAttemptCollectionName = "otp_attempts"
)

// OTPAttemptRepository implements the otp.Repository interface for MongoDB
type OTPAttemptRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewOTPAttemptRepository creates a new MongoDB OTP attempt repository
func NewOTPAttemptRepository(logger *slog.Logger, db *mongo.Database) *OTPAttemptRepository {
	return &OTPAttemptRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the TTL index that expires codes and the lookup index by phone
func (r *OTPAttemptRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(OTPAttemptCollectionName)

	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "phone", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, models); err != nil {
		r.logger.Error("Failed to create OTP attempt indexes", "error", err)
		return fmt.Errorf("failed to create otp attempt indexes: %w", err)
	}
	return nil
}

// Create stores a newly issued code
func (r *OTPAttemptRepository) Create(ctx context.Context, attempt *otp.Attempt) error {
	collection := r.db.Collection(OTPAttemptCollectionName)

	if _, err := collection.InsertOne(ctx, attempt); err != nil {
		r.logger.Error("Failed to create OTP attempt",
			"attempt_id", attempt.ID.String(),
			"error", err)
		return fmt.Errorf("failed to create otp attempt: %w", err)
	}
	return nil
}

// LatestActive returns the newest unused code issued to phone.
// Returns otp.ErrAttemptNotFound when none exists.
func (r *OTPAttemptRepository) LatestActive(ctx context.Context, phone string) (*otp.Attempt, error) {
	collection := r.db.Collection(OTPAttemptCollectionName)

	filter := bson.M{"phone": phone, "used": false}
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})

	var attempt otp.Attempt
	err := collection.FindOne(ctx, filter, opts).Decode(&attempt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, otp.ErrAttemptNotFound
		}
		r.logger.Error("Failed to get latest OTP attempt", "error", err)
		return nil, fmt.Errorf("failed to get latest otp attempt: %w", err)
	}

	return &attempt, nil
}

// MarkUsed consumes a code so it cannot be verified twice
func (r *OTPAttemptRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	collection := r.db.Collection(OTPAttemptCollectionName)

	filter := bson.M{"_id": id}
	update := bson.M{"$set": bson.M{"used": true}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to mark OTP attempt used",
			"attempt_id", id.String(),
			"error", err)
		return fmt.Errorf("failed to mark otp attempt used: %w", err)
	}

	if result.MatchedCount == 0 {
		return otp.ErrAttemptNotFound
	}
	return nil
}
