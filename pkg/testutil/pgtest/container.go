// Package pgtest starts throwaway PostgreSQL containers for integration tests.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/viper"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Config describes the container to start. Values come from ARBOR_TEST_PG_*
// environment variables with the defaults below.
type Config struct {
	Image    string
	User     string
	Password string
	Database string
	Port     int
}

// GetConfig returns the container configuration.
func GetConfig() Config {
	v := viper.New()
	v.SetEnvPrefix("ARBOR_TEST_PG")
	v.AutomaticEnv()
	v.SetDefault("image", "postgres:16-alpine")
	v.SetDefault("user", "arbor")
	v.SetDefault("password", "arbor")
	v.SetDefault("database", "arbor")
	v.SetDefault("port", 5432)

	return Config{
		Image:    v.GetString("image"),
		User:     v.GetString("user"),
		Password: v.GetString("password"),
		Database: v.GetString("database"),
		Port:     v.GetInt("port"),
	}
}

// Postgres is a running container.
type Postgres struct {
	Container testcontainers.Container
	User      string
	Password  string
	Database  string
	Host      string
	Port      uint16
}

// DSN returns a connection URL for database on the container.
func (p *Postgres) DSN(database string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// CreateDatabase creates an empty database and returns its DSN.
func (p *Postgres) CreateDatabase(ctx context.Context, name string) (string, error) {
	db, err := sql.Open("pgx", p.DSN(p.Database))
	if err != nil {
		return "", err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %q", name)); err != nil {
		return "", err
	}
	return p.DSN(name), nil
}

// Start launches a PostgreSQL container.
func Start(ctx context.Context) (*Postgres, error) {
	config := GetConfig()
	strPort := fmt.Sprintf("%d/tcp", config.Port)
	req := testcontainers.ContainerRequest{
		Image:        config.Image,
		ExposedPorts: []string{strPort},
		Env: map[string]string{
			"POSTGRES_USER":     config.User,
			"POSTGRES_PASSWORD": config.Password,
			"POSTGRES_DB":       config.Database,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort(nat.Port(strPort)),
		),
	}
	cnt, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating postgres container: %w", err)
	}
	host, err := cnt.Host(ctx)
	if err != nil {
		_ = cnt.Terminate(ctx)
		return nil, err
	}
	port, err := cnt.MappedPort(ctx, nat.Port(strPort))
	if err != nil {
		_ = cnt.Terminate(ctx)
		return nil, err
	}

	return &Postgres{
		Container: cnt,
		User:      config.User,
		Password:  config.Password,
		Database:  config.Database,
		Host:      host,
		Port:      uint16(port.Int()),
	}, nil
}

// New starts a container for t and terminates it on cleanup. The test is
// skipped in short mode or when no container runtime is available.
func New(t testing.TB) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	pg, err := Start(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})
	return pg
}
