// Package miniotest starts throwaway MinIO containers for integration tests.
package miniotest

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/spf13/viper"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const apiPort = nat.Port("9000/tcp")

// Minio is a running container.
type Minio struct {
	Container testcontainers.Container
	Endpoint  string
	User      string
	Password  string
}

// Start launches a MinIO server. ARBOR_TEST_MINIO_IMAGE, _USER and _PASSWORD
// override the defaults.
func Start(ctx context.Context) (*Minio, error) {
	v := viper.New()
	v.SetEnvPrefix("ARBOR_TEST_MINIO")
	v.AutomaticEnv()
	v.SetDefault("image", "minio/minio:latest")
	v.SetDefault("user", "arbor")
	v.SetDefault("password", "arbor-secret")

	user, password := v.GetString("user"), v.GetString("password")
	req := testcontainers.ContainerRequest{
		Image:        v.GetString("image"),
		ExposedPorts: []string{string(apiPort)},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     user,
			"MINIO_ROOT_PASSWORD": password,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort(apiPort),
	}
	cnt, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating minio container: %w", err)
	}
	host, err := cnt.Host(ctx)
	if err != nil {
		_ = cnt.Terminate(ctx)
		return nil, err
	}
	port, err := cnt.MappedPort(ctx, apiPort)
	if err != nil {
		_ = cnt.Terminate(ctx)
		return nil, err
	}

	return &Minio{
		Container: cnt,
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		User:      user,
		Password:  password,
	}, nil
}

// New starts a container for t and terminates it on cleanup.
func New(t testing.TB) *Minio {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	m, err := Start(ctx)
	if err != nil {
		t.Skipf("minio container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Container.Terminate(context.Background())
	})
	return m
}
