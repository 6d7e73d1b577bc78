package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jghoshh/habitgrove/core/domain"
	"github.com/jghoshh/habitgrove/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the habit,
// completion, daily-log and disruption collections.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and a database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Initializing users collection.
	// Unique indexes on "email" and "username" ensure one account per
	// identity and speed up sign-in lookups.
	usersCollection := m.client.Database(m.dbName).Collection("users")

	emailIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"email": 1, // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, emailIndexModel)
	if err != nil {
		return fmt.Errorf("error creating email index: %v", err)
	}

	usernameIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"username": 1,
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, usernameIndexModel)
	if err != nil {
		return fmt.Errorf("error creating username index: %v", err)
	}

	// Initializing habits collection.
	habitsCollection := m.client.Database(m.dbName).Collection("habits")

	userIdIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1,
		},
		Options: options.Index(),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index on habits: %v", err)
	}

	// Initializing habit_completions collection.
	// The compound unique index is the upsert key: at most one event
	// per (user, habit, calendar day).
	completionsCollection := m.client.Database(m.dbName).Collection("habit_completions")

	completionKeyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "habit_id", Value: 1},
			{Key: "completed_date", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = completionsCollection.Indexes().CreateOne(ctx, completionKeyIndexModel)
	if err != nil {
		return fmt.Errorf("error creating completion key index: %v", err)
	}

	// Initializing daily_logs collection.
	// One log per (user, calendar day); the unique index backs the
	// upsert semantics.
	logsCollection := m.client.Database(m.dbName).Collection("daily_logs")

	logKeyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "log_date", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = logsCollection.Indexes().CreateOne(ctx, logKeyIndexModel)
	if err != nil {
		return fmt.Errorf("error creating log key index: %v", err)
	}

	// Initializing disruption_history collection.
	// The partial unique index only covers documents whose ended_at is
	// null, which makes "at most one open episode per user" a single
	// conditional insert instead of a racy check-then-act.
	episodesCollection := m.client.Database(m.dbName).Collection("disruption_history")

	openEpisodeIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1,
		},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.D{
				{Key: "ended_at", Value: bson.D{{Key: "$type", Value: "null"}}},
			}),
	}

	_, err = episodesCollection.Indexes().CreateOne(ctx, openEpisodeIndexModel)
	if err != nil {
		return fmt.Errorf("error creating open episode index: %v", err)
	}

	startedAtIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "started_at", Value: -1},
		},
		Options: options.Index(),
	}

	_, err = episodesCollection.Indexes().CreateOne(ctx, startedAtIndexModel)
	if err != nil {
		return fmt.Errorf("error creating started_at index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

func (m *MongoStorage) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// withTransaction runs fn inside a session transaction. The two
// check-then-act invariants (habit cap, open episode) go through here.
func (m *MongoStorage) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) (interface{}, error)) (interface{}, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return nil, err
	}
	defer sess.EndSession(ctx)
	return sess.WithTransaction(ctx, fn)
}

// isDuplicateKey reports whether err is a unique index violation.
func isDuplicateKey(err error) bool {
	if we, ok := err.(mongo.WriteException); ok {
		for _, writeError := range we.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// AddUser adds a new user document to the 'users' collection.
// Returns the added user instance and an error if the insert operation fails.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	result, err := m.collection("users").InsertOne(ctx, user)
	if err != nil {
		return nil, err
	}

	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindUserByUsername finds a user by username, or (nil, nil) if absent.
func (m *MongoStorage) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"username": username})
}

// FindUserByEmail finds a user by email, or (nil, nil) if absent.
func (m *MongoStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"email": email})
}

func (m *MongoStorage) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	user := &models.User{}
	err := m.collection("users").FindOne(ctx, filter).Decode(user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// When the habit is active, the count check and the insert run in one
// transaction so two concurrent adds cannot both slip under the cap.
// Returns a CAPACITY_EXCEEDED domain error when the cap is already met.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit, cap int) (*models.Habit, error) {
	if !habit.IsActive {
		result, err := m.collection("habits").InsertOne(ctx, habit)
		if err != nil {
			return nil, err
		}
		habit.ID = result.InsertedID.(primitive.ObjectID)
		return habit, nil
	}

	_, err := m.withTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		count, err := m.collection("habits").CountDocuments(sc, bson.M{"user_id": habit.UserID, "is_active": true})
		if err != nil {
			return nil, err
		}
		if count >= int64(cap) {
			return nil, domain.E(domain.KindCapacityExceeded, "maximum %d active habits allowed", cap)
		}
		result, err := m.collection("habits").InsertOne(sc, habit)
		if err != nil {
			return nil, err
		}
		habit.ID = result.InsertedID.(primitive.ObjectID)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// FindHabit finds one habit owned by the user, or (nil, nil) if absent.
func (m *MongoStorage) FindHabit(ctx context.Context, userID, habitID primitive.ObjectID) (*models.Habit, error) {
	habit := &models.Habit{}
	err := m.collection("habits").FindOne(ctx, bson.M{"_id": habitID, "user_id": userID}).Decode(habit)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// FindHabits lists the user's habits sorted by display order.
func (m *MongoStorage) FindHabits(ctx context.Context, userID primitive.ObjectID) ([]models.Habit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "display_order", Value: 1}})
	cursor, err := m.collection("habits").Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var habits []models.Habit
	if err := cursor.All(ctx, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// HabitCount returns the number of habits the user has, active or not.
func (m *MongoStorage) HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return m.collection("habits").CountDocuments(ctx, bson.M{"user_id": userID})
}

// CountActiveHabits returns the number of currently active habits for the user.
func (m *MongoStorage) CountActiveHabits(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return m.collection("habits").CountDocuments(ctx, bson.M{"user_id": userID, "is_active": true})
}

// UpdateHabit persists the mutable habit fields. Category and owner
// are immutable after creation and are deliberately not written.
func (m *MongoStorage) UpdateHabit(ctx context.Context, habit *models.Habit) error {
	update := bson.M{"$set": bson.M{
		"is_active":     habit.IsActive,
		"pause_reason":  habit.PauseReason,
		"display_order": habit.DisplayOrder,
	}}
	result, err := m.collection("habits").UpdateOne(ctx, bson.M{"_id": habit.ID, "user_id": habit.UserID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.E(domain.KindNotFound, "habit %s not found", habit.ID.Hex())
	}
	return nil
}

// ActivateHabit flips a habit to active inside a transaction that
// re-checks the cap, so concurrent activations cannot breach it.
func (m *MongoStorage) ActivateHabit(ctx context.Context, userID, habitID primitive.ObjectID, cap int) error {
	_, err := m.withTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		count, err := m.collection("habits").CountDocuments(sc, bson.M{"user_id": userID, "is_active": true})
		if err != nil {
			return nil, err
		}
		if count >= int64(cap) {
			return nil, domain.E(domain.KindCapacityExceeded, "maximum %d active habits allowed", cap)
		}
		update := bson.M{"$set": bson.M{"is_active": true, "pause_reason": ""}}
		result, err := m.collection("habits").UpdateOne(sc, bson.M{"_id": habitID, "user_id": userID}, update)
		if err != nil {
			return nil, err
		}
		if result.MatchedCount == 0 {
			return nil, domain.E(domain.KindNotFound, "habit %s not found", habitID.Hex())
		}
		return nil, nil
	})
	return err
}

// DeleteHabit deletes a habit and cascades to its completion events
// and to every episode's paused-habit set. Deleting a habit that does
// not exist is a no-op.
func (m *MongoStorage) DeleteHabit(ctx context.Context, userID, habitID primitive.ObjectID) error {
	_, err := m.collection("habits").DeleteOne(ctx, bson.M{"_id": habitID, "user_id": userID})
	if err != nil {
		return err
	}

	_, err = m.collection("habit_completions").DeleteMany(ctx, bson.M{"habit_id": habitID})
	if err != nil {
		return err
	}

	_, err = m.collection("disruption_history").UpdateMany(
		ctx,
		bson.M{"user_id": userID},
		bson.M{"$pull": bson.M{"paused_habits": habitID}},
	)
	return err
}

// FindCompletion finds the event for (habit, date), or (nil, nil) if absent.
func (m *MongoStorage) FindCompletion(ctx context.Context, userID, habitID primitive.ObjectID, date string) (*models.CompletionEvent, error) {
	ev := &models.CompletionEvent{}
	filter := bson.M{"user_id": userID, "habit_id": habitID, "completed_date": date}
	err := m.collection("habit_completions").FindOne(ctx, filter).Decode(ev)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// AddCompletion adds a completion event.
func (m *MongoStorage) AddCompletion(ctx context.Context, ev *models.CompletionEvent) (*models.CompletionEvent, error) {
	result, err := m.collection("habit_completions").InsertOne(ctx, ev)
	if err != nil {
		return nil, err
	}
	ev.ID = result.InsertedID.(primitive.ObjectID)
	return ev, nil
}

// MarkCompletion sets the completed flag on an existing event.
func (m *MongoStorage) MarkCompletion(ctx context.Context, id primitive.ObjectID, completed bool) error {
	result, err := m.collection("habit_completions").UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"completed": completed}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.E(domain.KindNotFound, "completion %s not found", id.Hex())
	}
	return nil
}

// DeleteCompletion deletes a completion event by id.
func (m *MongoStorage) DeleteCompletion(ctx context.Context, id primitive.ObjectID) error {
	_, err := m.collection("habit_completions").DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// FindCompletionsByHabit lists every completion event for one habit.
func (m *MongoStorage) FindCompletionsByHabit(ctx context.Context, habitID primitive.ObjectID) ([]models.CompletionEvent, error) {
	return m.findCompletions(ctx, bson.M{"habit_id": habitID})
}

// FindCompletions lists every completion event the user owns.
func (m *MongoStorage) FindCompletions(ctx context.Context, userID primitive.ObjectID) ([]models.CompletionEvent, error) {
	return m.findCompletions(ctx, bson.M{"user_id": userID})
}

func (m *MongoStorage) findCompletions(ctx context.Context, filter bson.M) ([]models.CompletionEvent, error) {
	cursor, err := m.collection("habit_completions").Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []models.CompletionEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// UpsertDailyLog inserts or updates the log keyed on (user, date).
// Only mood, notes and updated_at are written on update, so the
// disruption metadata attached by the classifier survives edits.
func (m *MongoStorage) UpsertDailyLog(ctx context.Context, log *models.DailyLog) (*models.DailyLog, error) {
	filter := bson.M{"user_id": log.UserID, "log_date": log.LogDate}
	update := bson.M{
		"$set": bson.M{
			"mood":       log.Mood,
			"notes":      log.Notes,
			"updated_at": log.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"user_id":    log.UserID,
			"log_date":   log.LogDate,
			"created_at": log.CreatedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	saved := &models.DailyLog{}
	err := m.collection("daily_logs").FindOneAndUpdate(ctx, filter, update, opts).Decode(saved)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// MergeLogClassification attaches classifier output to an existing
// log. The $set is restricted to the disruption fields so a result
// arriving after a newer edit never overwrites mood or notes.
func (m *MongoStorage) MergeLogClassification(ctx context.Context, userID primitive.ObjectID, date string, dtype models.DisruptionType, plan string, detectedAt time.Time) (*models.DailyLog, error) {
	filter := bson.M{"user_id": userID, "log_date": date}
	update := bson.M{"$set": bson.M{
		"disruption_type":        dtype,
		"recovery_plan":          plan,
		"disruption_detected_at": detectedAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	merged := &models.DailyLog{}
	err := m.collection("daily_logs").FindOneAndUpdate(ctx, filter, update, opts).Decode(merged)
	if err == mongo.ErrNoDocuments {
		return nil, domain.E(domain.KindNotFound, "no log for %s on %s", userID.Hex(), date)
	}
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// FindDailyLog finds the log for (user, date), or (nil, nil) if absent.
func (m *MongoStorage) FindDailyLog(ctx context.Context, userID primitive.ObjectID, date string) (*models.DailyLog, error) {
	log := &models.DailyLog{}
	err := m.collection("daily_logs").FindOne(ctx, bson.M{"user_id": userID, "log_date": date}).Decode(log)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

// FindDailyLogs lists the user's logs newest first, up to limit.
func (m *MongoStorage) FindDailyLogs(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.DailyLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "log_date", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := m.collection("daily_logs").Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []models.DailyLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// AddEpisode inserts a new open episode. The partial unique index on
// open episodes turns a concurrent double-open into a duplicate key
// error, which surfaces as ALREADY_DISRUPTED.
func (m *MongoStorage) AddEpisode(ctx context.Context, ep *models.DisruptionEpisode) (*models.DisruptionEpisode, error) {
	result, err := m.collection("disruption_history").InsertOne(ctx, ep)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, domain.E(domain.KindAlreadyDisrupted, "a disruption episode is already open")
		}
		return nil, err
	}
	ep.ID = result.InsertedID.(primitive.ObjectID)
	return ep, nil
}

// FindOpenEpisode finds the user's open episode, or (nil, nil) when calm.
func (m *MongoStorage) FindOpenEpisode(ctx context.Context, userID primitive.ObjectID) (*models.DisruptionEpisode, error) {
	ep := &models.DisruptionEpisode{}
	err := m.collection("disruption_history").FindOne(ctx, bson.M{"user_id": userID, "ended_at": nil}).Decode(ep)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// FindEpisodes lists every episode for the user, newest first.
func (m *MongoStorage) FindEpisodes(ctx context.Context, userID primitive.ObjectID) ([]models.DisruptionEpisode, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	cursor, err := m.collection("disruption_history").Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var episodes []models.DisruptionEpisode
	if err := cursor.All(ctx, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// CloseEpisode stamps ended_at on the open episode and returns it.
// Returns (nil, nil) when no episode is open.
func (m *MongoStorage) CloseEpisode(ctx context.Context, userID primitive.ObjectID, endedAt time.Time) (*models.DisruptionEpisode, error) {
	filter := bson.M{"user_id": userID, "ended_at": nil}
	update := bson.M{"$set": bson.M{"ended_at": endedAt}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	ep := &models.DisruptionEpisode{}
	err := m.collection("disruption_history").FindOneAndUpdate(ctx, filter, update, opts).Decode(ep)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}
