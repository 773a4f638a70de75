package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoUserStore struct {
	cli    *mongo.Client
	coll   *mongo.Collection
	params ArgonParams
}

func NewMongoUserStore(ctx context.Context, uri, db, coll string, params ArgonParams) (*MongoUserStore, error) {
	opts := options.Client().ApplyURI(uri)
	cli, err := mongo.NewClient(opts)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := cli.Connect(dialCtx); err != nil {
		return nil, err
	}
	// optional ping
	_ = cli.Ping(dialCtx, readpref.Primary())

	c := cli.Database(db).Collection(coll)

	// Uniqueness is enforced at the storage layer, not by callers.
	_, _ = c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return &MongoUserStore{cli: cli, coll: c, params: params}, nil
}

func (s *MongoUserStore) Close(ctx context.Context) error {
	return s.cli.Disconnect(ctx)
}

type userDoc struct {
	ID                string     `bson:"_id"`
	Username          string     `bson:"username"`
	PassHash          string     `bson:"pass_hash"`
	Role              Role       `bson:"role"`
	TokenVersion      int64      `bson:"token_version"`
	FailedLogins      int        `bson:"failed_logins"`
	LockedUntil       *time.Time `bson:"locked_until,omitempty"`
	LastLogin         time.Time  `bson:"last_login"`
	PasswordChangedAt time.Time  `bson:"password_changed_at"`
	Active            bool       `bson:"active"`
	CreatedAt         time.Time  `bson:"created_at"`
}

func toDoc(u *User) userDoc {
	return userDoc{
		ID:                u.ID,
		Username:          u.Username,
		PassHash:          u.PassHash,
		Role:              u.Role,
		TokenVersion:      u.TokenVersion,
		FailedLogins:      u.FailedLogins,
		LockedUntil:       u.LockedUntil,
		LastLogin:         u.LastLogin,
		PasswordChangedAt: u.PasswordChangedAt,
		Active:            u.Active,
		CreatedAt:         u.CreatedAt,
	}
}

func (d userDoc) toUser() *User {
	return &User{
		ID:                d.ID,
		Username:          d.Username,
		PassHash:          d.PassHash,
		Role:              d.Role,
		TokenVersion:      d.TokenVersion,
		FailedLogins:      d.FailedLogins,
		LockedUntil:       d.LockedUntil,
		LastLogin:         d.LastLogin,
		PasswordChangedAt: d.PasswordChangedAt,
		Active:            d.Active,
		CreatedAt:         d.CreatedAt,
	}
}

// Create inserts a new user, hashing any staged password first.
func (s *MongoUserStore) Create(ctx context.Context, u *User) error {
	if err := prepareNew(s.params, u, time.Now()); err != nil {
		return err
	}
	_, err := s.coll.InsertOne(ctx, toDoc(u))
	if wex, ok := err.(mongo.WriteException); ok {
		for _, we := range wex.WriteErrors {
			if we.Code == 11000 { // duplicate key
				return errors.New("username already exists")
			}
		}
	}
	return err
}

// Save replaces the stored record. A staged plaintext password is re-hashed
// before the write; concurrent saves are last-write-wins.
func (s *MongoUserStore) Save(ctx context.Context, u *User) error {
	if err := hashStaged(s.params, u); err != nil {
		return err
	}
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": u.ID}, toDoc(u))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.findOne(ctx, bson.M{"username": NormalizeUsername(username)})
}

func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoUserStore) findOne(ctx context.Context, filter interface{}) (*User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toUser(), nil
}

// List returns all users sorted by username; used by the provisioning CLI.
func (s *MongoUserStore) List(ctx context.Context) ([]*User, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*User
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toUser())
	}
	return out, cur.Err()
}
