// Copyright 2023 The go-adkihon Authors
// This file is part of the go-adkihon library.
//
// The go-adkihon library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-adkihon library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-adkihon library. If not, see <http://www.gnu.org/licenses/>.

// Package mongodb backs the persistence gateway with MongoDB. One client,
// and therefore one connection pool, is shared by every engine worker.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adkihon/go-adkihon/gamedb"
)

const opTimeout = 10 * time.Second

// Config carries the connection parameters of the store.
type Config struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// DB implements gamedb.Database on a MongoDB database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// New dials the store and pings it once to fail fast on bad credentials.
func New(cfg Config) (*DB, error) {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.User, cfg.Password, cfg.Hostname, cfg.Port)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	return &DB{client: client, db: client.Database(cfg.DBName)}, nil
}

func (db *DB) teams() *mongo.Collection    { return db.db.Collection("team") }
func (db *DB) services() *mongo.Collection { return db.db.Collection("service") }
func (db *DB) flags() *mongo.Collection    { return db.db.Collection("flag") }

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (db *DB) AddTeam(team gamedb.Team) error {
	ctx, cancel := opCtx()
	defer cancel()
	if team.Points == nil {
		team.Points = []gamedb.PointRecord{}
	}
	if team.StolenFlags == nil {
		team.StolenFlags = []gamedb.FlagRef{}
	}
	if team.LostFlags == nil {
		team.LostFlags = []gamedb.FlagRef{}
	}
	if team.Checks == nil {
		team.Checks = []gamedb.CheckRecord{}
	}
	_, err := db.teams().UpdateOne(ctx,
		bson.M{"team_id": team.ID},
		bson.M{"$setOnInsert": team},
		options.Update().SetUpsert(true))
	return err
}

func (db *DB) AddService(svc gamedb.Service) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.services().UpdateOne(ctx,
		bson.M{"service_id": svc.ID},
		bson.M{"$setOnInsert": svc},
		options.Update().SetUpsert(true))
	return err
}

func (db *DB) InitTeamPoints() error {
	teams, err := db.Teams()
	if err != nil {
		return err
	}
	services, err := db.Services()
	if err != nil {
		return err
	}
	ctx, cancel := opCtx()
	defer cancel()
	for _, team := range teams {
		for _, svc := range services {
			// Push a zeroed record only when the team has none for the service.
			_, err := db.teams().UpdateOne(ctx,
				bson.M{"team_id": team.ID, "points.service_id": bson.M{"$ne": svc.ID}},
				bson.M{"$push": bson.M{"points": gamedb.PointRecord{ServiceID: svc.ID}}})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *DB) EnsureFlagIndex() error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.flags().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "flag_data", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seed", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

func (db *DB) Teams() ([]gamedb.Team, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := db.teams().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "team_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var teams []gamedb.Team
	if err := cur.All(ctx, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (db *DB) Services() ([]gamedb.Service, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cur, err := db.services().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "service_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var services []gamedb.Service
	if err := cur.All(ctx, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (db *DB) InsertFlag(flag gamedb.Flag) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.flags().InsertOne(ctx, flag)
	if mongo.IsDuplicateKeyError(err) {
		return gamedb.ErrAlreadyExistent
	}
	return err
}

func (db *DB) FlagByData(data string) (gamedb.Flag, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var flag gamedb.Flag
	err := db.flags().FindOne(ctx, bson.M{"flag_data": data}).Decode(&flag)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return gamedb.Flag{}, gamedb.ErrNotExistent
	}
	return flag, err
}

func (db *DB) FlagForRound(round, teamID, serviceID int) (gamedb.Flag, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var flag gamedb.Flag
	err := db.flags().FindOne(ctx, bson.M{
		"round_num": round, "team_id": teamID, "service_id": serviceID,
	}).Decode(&flag)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return gamedb.Flag{}, gamedb.ErrNotExistent
	}
	return flag, err
}

func (db *DB) HasStolenFlag(token, data string) error {
	ctx, cancel := opCtx()
	defer cancel()
	err := db.teams().FindOne(ctx,
		bson.M{"token": token, "stolen_flags.flag_data": data},
		options.FindOne().SetProjection(bson.M{"team_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return gamedb.ErrNotExistent
	}
	return err
}

func (db *DB) PushStolenFlag(token, data string, ts int64) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.teams().UpdateOne(ctx,
		bson.M{"token": token},
		bson.M{"$push": bson.M{"stolen_flags": gamedb.FlagRef{FlagData: data, Timestamp: ts}}})
	return err
}

func (db *DB) PushLostFlag(teamID int, data string, ts int64) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.teams().UpdateOne(ctx,
		bson.M{"team_id": teamID},
		bson.M{"$push": bson.M{"lost_flags": gamedb.FlagRef{FlagData: data, Timestamp: ts}}})
	return err
}

func (db *DB) PushCheck(teamID, serviceID int, status string, ts int64) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.teams().UpdateOne(ctx,
		bson.M{"team_id": teamID},
		bson.M{"$push": bson.M{"checks": gamedb.CheckRecord{ServiceID: serviceID, Status: status, Timestamp: ts}}})
	return err
}

func (db *DB) UpdatePoints(teamID, serviceID int, kind gamedb.PointsKind, incr bool, ts int64) error {
	if !kind.Valid() {
		return gamedb.ErrInvalidUpdate
	}
	amount := 1
	if !incr {
		amount = -1
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.teams().UpdateOne(ctx,
		bson.M{"team_id": teamID, "points.service_id": serviceID},
		bson.M{"$inc": bson.M{"points.$." + string(kind): amount}})
	if err != nil {
		return err
	}
	// Monotonic: a late event with an older timestamp must not regress it.
	_, err = db.teams().UpdateOne(ctx,
		bson.M{"team_id": teamID},
		bson.M{"$max": bson.M{"last_pts_update": ts}})
	return err
}

func (db *DB) ResetPoints(teamID int) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := db.teams().UpdateOne(ctx,
		bson.M{"team_id": teamID},
		bson.M{"$set": bson.M{
			"points.$[].atk_pts": 0,
			"points.$[].def_pts": 0,
			"points.$[].sla_pts": 0,
			"last_pts_update":    0,
		}})
	return err
}

func (db *DB) Close() error {
	ctx, cancel := opCtx()
	defer cancel()
	return db.client.Disconnect(ctx)
}
