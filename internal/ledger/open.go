package ledger

import (
	"context"
	"net/url"
	"strings"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/pkg/database"
)

const defaultMongoDatabase = "udmigrate"

// Open picks a backend from the location's scheme:
//
//	mongodb://, mongodb+srv://  MongoDB (database taken from the URI path)
//	sqlserver://                Microsoft SQL Server
//	mysql://user:pw@tcp(h)/db   MySQL (prefix stripped, go-sql-driver DSN)
//	postgres://, postgresql://  PostgreSQL
//	sqlite://path, or a path    SQLite file
func Open(ctx context.Context, location string) (Store, error) {
	switch {
	case location == "":
		return nil, errors.NotValidf("empty ledger location")

	case strings.HasPrefix(location, "mongodb://"), strings.HasPrefix(location, "mongodb+srv://"):
		client, err := database.ConnectMongo(location)
		if err != nil {
			return nil, errors.Trace(err)
		}
		store, err := NewMongoStore(ctx, client, mongoDatabase(location), DefaultCollection)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, errors.Trace(err)
		}
		return store, nil

	case strings.HasPrefix(location, "sqlserver://"):
		db, err := database.ConnectSQL(location)
		if err != nil {
			return nil, errors.Trace(err)
		}
		store, err := NewSQLServerStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, errors.Trace(err)
		}
		return store, nil

	case strings.HasPrefix(location, "mysql://"):
		return openGorm(database.MySQL, strings.TrimPrefix(location, "mysql://"))

	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return openGorm(database.Postgres, location)

	default:
		return openGorm(database.SQLite, strings.TrimPrefix(location, "sqlite://"))
	}
}

func openGorm(dialect database.Dialect, dsn string) (Store, error) {
	db, err := database.OpenGorm(dialect, dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, errors.Trace(err)
	}
	return store, nil
}

func mongoDatabase(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}
