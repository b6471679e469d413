package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/vitrine/pkg/database"
	"github.com/barekit/vitrine/pkg/memory/consts"
	gormmem "github.com/barekit/vitrine/pkg/memory/gorm"
	"github.com/barekit/vitrine/pkg/memory/inmemory"
	mongomem "github.com/barekit/vitrine/pkg/memory/mongo"
	"github.com/barekit/vitrine/pkg/memory/neo4j"
	"github.com/barekit/vitrine/pkg/memory/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Type string

const (
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
	TypeMSSQL    Type = "mssql"
	TypeRedis    Type = "redis"
	TypeNeo4j    Type = "neo4j"
	TypeMongo    Type = "mongo"
	TypeInMemory Type = "inmemory"
)

// Config selects and bounds a session backend.
type Config struct {
	Type             Type
	ConnectionString string
	Username         string
	Password         string
	DBName           string

	// TTL expires idle sessions. Zero uses DefaultTTL; negative never expires.
	TTL time.Duration
	// MaxTurns caps the stored turns per session. Zero uses
	// DefaultMaxTurns; negative keeps all.
	MaxTurns int
}

func (c Config) limits() (time.Duration, int) {
	ttl, turns := c.TTL, c.MaxTurns
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	switch {
	case turns == 0:
		turns = DefaultMaxTurns
	case turns < 0:
		turns = 0
	}
	return ttl, turns
}

// NewFactory connects the configured session backend. An empty Type selects
// the in-process store.
func NewFactory(ctx context.Context, cfg Config) (Memory, error) {
	ttl, maxTurns := cfg.limits()

	switch cfg.Type {
	case TypeSQLite, TypePostgres, TypeMySQL, TypeMSSQL:
		db, err := database.Open(database.Driver(cfg.Type), cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		return gormmem.New(ctx, db, ttl, maxTurns)

	case TypeRedis:
		opts, err := goredis.ParseURL(cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		return redis.New(client, ttl, maxTurns), nil

	case TypeNeo4j:
		dbName := cfg.DBName
		if dbName == "" {
			dbName = "neo4j"
		}
		return neo4j.New(ctx, neo4j.Config{
			URI:      cfg.ConnectionString,
			Username: cfg.Username,
			Password: cfg.Password,
			Database: dbName,
			TTL:      ttl,
			MaxTurns: maxTurns,
		})

	case TypeMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnectionString))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("mongo unreachable: %w", err)
		}
		dbName := cfg.DBName
		if dbName == "" {
			dbName = consts.DefaultDBName
		}
		return mongomem.New(ctx, client.Database(dbName).Collection(consts.TableNameTurns), ttl, maxTurns)

	case TypeInMemory, "":
		return inmemory.New(ttl, maxTurns), nil

	default:
		return nil, fmt.Errorf("unsupported session store: %q", cfg.Type)
	}
}
