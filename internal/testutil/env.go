package testutil

import (
	"fmt"
	"net"
	"os"
	"testing"
)

// EnvPostgresTests enables tests that start a Postgres container.
const EnvPostgresTests = "TAKEOFF_PG_TESTS"

// PostgresTestConfig holds container settings for a test database. It
// mirrors the fields of pgcontainer.Config a test needs, without importing
// that package. Data stays inside the container so TempDir cleanup never
// meets files owned by the postgres user.
type PostgresTestConfig struct {
	ContainerName string
	HostPort      string
	Labels        map[string]string
}

// RequirePostgres skips the test unless TAKEOFF_PG_TESTS=1, then registers
// Docker cleanup and returns a container config with a unique name and a
// free port.
func RequirePostgres(t *testing.T) PostgresTestConfig {
	t.Helper()
	if os.Getenv(EnvPostgresTests) != "1" {
		t.Skipf("set %s=1 to run Postgres container tests", EnvPostgresTests)
	}

	_ = DockerClient(t)

	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for postgres: %v", err)
	}
	return PostgresTestConfig{
		ContainerName: UniqueContainerName(t, "pg"),
		HostPort:      port,
		Labels:        ContainerLabels(t),
	}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
