package local

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Options configures a self hosted platform.
type Options struct {
	DSN           string
	SigningKey    []byte
	TokenTTL      time.Duration
	Issuer        string
	Audience      []string
	JWKSURL       string
	BcryptCost    int
	HashIDs       bool
	Logger        *slog.Logger
	Relay         ChangeRelay
	MaxOpenConns  int
	ForeignKeysOn bool
	// Debug logs every query run by the migration client.
	Debug bool
}

// Platform bundles the local auth, database and realtime services.
type Platform struct {
	DB       *bun.DB
	Tokens   *TokenService
	Auth     *AuthService
	Database *Database
	Broker   *Broker

	sqldb  *sql.DB
	store  storeConfig
	logger *slog.Logger
}

// storeConfig is the getter config the persistence client reads.
type storeConfig struct {
	dsn   string
	debug bool
}

func (c storeConfig) GetDebug() bool                { return c.debug }
func (c storeConfig) GetDriver() string             { return sqliteshim.ShimName }
func (c storeConfig) GetServer() string             { return c.dsn }
func (c storeConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c storeConfig) GetOtelIdentifier() string     { return "alumni-platform" }

// Open connects to the sqlite database at opts.DSN and builds the services.
func Open(opts Options) (*Platform, error) {
	if opts.DSN == "" {
		opts.DSN = ":memory:"
	}
	if opts.DSN == ":memory:" {
		opts.MaxOpenConns = 1
	}
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("platform signing key is required", errors.CategoryValidation).
			WithTextCode("SIGNING_KEY_REQUIRED").
			WithCode(errors.CodeBadRequest)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to open platform database")
	}
	if opts.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(opts.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if opts.ForeignKeysOn {
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to enable foreign keys")
		}
	}

	tokens := NewTokenService(opts.SigningKey, opts.TokenTTL, opts.Issuer, opts.Audience...)
	if opts.JWKSURL != "" {
		if err := tokens.WithJWKS(opts.JWKSURL); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	broker := NewBroker(opts.Logger)
	if opts.Relay != nil {
		broker.WithRelay(opts.Relay)
	}

	p := &Platform{
		sqldb:  sqldb,
		store:  storeConfig{dsn: opts.DSN, debug: opts.Debug},
		DB:     db,
		Tokens: tokens,
		Auth: NewAuthService(db, tokens,
			WithBcryptCost(opts.BcryptCost),
			WithDeterministicIDs(opts.HashIDs),
			WithAuthLogger(opts.Logger),
		),
		Database: NewDatabase(db, broker),
		Broker:   broker,
		logger:   opts.Logger.With("component", "platform"),
	}
	return p, nil
}

// RegisterTable exposes model through Database.From(name).
func (p *Platform) RegisterTable(name string, model any) {
	p.Database.Register(name, model)
}

// NewClient returns an auth client keeping its token in storage.
func (p *Platform) NewClient(storage baas.KeyValue) *Client {
	return p.Auth.NewClient(storage)
}

// Migrate creates the identities table and every registered table, then
// runs the *.up.sql files in migrations through the persistence client.
// Applied files are recorded, so running Migrate again is a no-op.
func (p *Platform) Migrate(ctx context.Context, migrations fs.FS) error {
	models := []any{(*IdentityRecord)(nil)}
	registered := p.Database.Models()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		models = append(models, registered[name])
	}

	for _, model := range models {
		if _, err := p.DB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryOperation, fmt.Sprintf("failed to create table for %T", model))
		}
	}

	if migrations == nil {
		return nil
	}

	for _, model := range models {
		persistence.RegisterModel(model)
	}

	client, err := persistence.New(p.store, p.sqldb, sqlitedialect.New())
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to create persistence client")
	}
	client.RegisterSQLMigrations(migrations)

	if err := client.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "migrations failed")
	}
	p.logger.Debug("migrations applied")
	return nil
}

// Close releases the database and background token refreshes.
func (p *Platform) Close() error {
	p.Tokens.Close()
	return p.DB.Close()
}
