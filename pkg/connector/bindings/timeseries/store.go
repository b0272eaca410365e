package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the database session of the binding
type Store interface {
	// Query runs query and calls fn with every row keyed by column name
	Query(ctx context.Context, query string, args []interface{}, fn func(row map[string]interface{}) error) error
	// Insert appends rows to table
	Insert(ctx context.Context, table string, columns []string, rows [][]interface{}) error
	Ping(ctx context.Context) error
	Close()
}

// Opener opens the store for a connection parameter
type Opener func(ctx context.Context, dialect Dialect, params *core.ConnectorParameter) (Store, error)

// SettingDatabase names the database when the endpoint path is empty
const SettingDatabase = "DATABASE"

func database(params *core.ConnectorParameter) string {
	if db := strings.Trim(params.EndpointPath(), "/"); db != "" {
		return db
	}
	return params.SpecificStringSetting(SettingDatabase, "")
}

// OpenStore opens a pgx pool or a MySQL database depending on dialect
func OpenStore(ctx context.Context, dialect Dialect, params *core.ConnectorParameter) (Store, error) {
	switch dialect.Name {
	case MySQL.Name:
		return openMySQL(ctx, params)
	default:
		return openPostgres(ctx, params)
	}
}

// PostgresDSN builds a pgx connection string from the parameter
func PostgresDSN(params *core.ConnectorParameter) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(params.Host(), strconv.Itoa(params.Port())),
		Path:   "/" + database(params),
	}
	if tok := params.IdentityToken(core.AnyEndpoint); !tok.IsAnonymous() && tok.Type == core.TokenUsername {
		u.User = url.UserPassword(tok.Username, tok.Password)
	}
	q := url.Values{}
	if params.Schema() != core.SchemaSSL && params.Schema() != core.SchemaHTTPS {
		q.Set("sslmode", "disable")
	}
	if t := params.RequestTimeout(); t > 0 {
		q.Set("connect_timeout", strconv.Itoa(int((t+time.Second-1)/time.Second)))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type pgStore struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, params *core.ConnectorParameter) (Store, error) {
	cfg, err := pgxpool.ParseConfig(PostgresDSN(params))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 30 * time.Minute
	if ka := params.KeepAlive(); ka > 0 {
		cfg.HealthCheckPeriod = ka
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to validate connection")
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Query(ctx context.Context, query string, args []interface{}, fn func(map[string]interface{}) error) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		row := make(map[string]interface{}, len(values))
		for i, v := range values {
			row[fields[i].Name] = v
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *pgStore) Insert(ctx context.Context, table string, columns []string, rows [][]interface{}) error {
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier(strings.Split(table, ".")), columns, pgx.CopyFromRows(rows))
	return err
}

func (s *pgStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *pgStore) Close()                         { s.pool.Close() }

// MySQLConfig builds the driver configuration from the parameter
func MySQLConfig(params *core.ConnectorParameter) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host(), strconv.Itoa(params.Port()))
	cfg.DBName = database(params)
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if tok := params.IdentityToken(core.AnyEndpoint); !tok.IsAnonymous() && tok.Type == core.TokenUsername {
		cfg.User = tok.Username
		cfg.Passwd = tok.Password
	}
	if t := params.RequestTimeout(); t > 0 {
		cfg.Timeout = t
		cfg.ReadTimeout = t
		cfg.WriteTimeout = t
	}
	return cfg
}

type sqlStore struct {
	db      *sql.DB
	dialect Dialect
}

func openMySQL(ctx context.Context, params *core.ConnectorParameter) (Store, error) {
	connector, err := mysql.NewConnector(MySQLConfig(params))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql configuration")
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to validate connection")
	}
	return &sqlStore{db: db, dialect: MySQL}, nil
}

func (s *sqlStore) Query(ctx context.Context, query string, args []interface{}, fn func(map[string]interface{}) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqlStore) Insert(ctx context.Context, table string, columns []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.ident(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	tuples := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, r := range rows {
		tuples[i] = tuple
		args = append(args, r...)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.dialect.ident(table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlStore) Close()                         { _ = s.db.Close() }
