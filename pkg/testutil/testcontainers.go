package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type ContainerConfig struct {
	MongoDBVersion string
	RedisVersion   string
}

func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		MongoDBVersion: "6.0",
		RedisVersion:   "7.0",
	}
}

type MongoDBContainer struct {
	Container    testcontainers.Container
	URI          string
	DatabaseName string
}

// StartMongoContainer starts a throwaway MongoDB for repository tests.
func StartMongoContainer(ctx context.Context) (*MongoDBContainer, error) {
	config := DefaultContainerConfig()
	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("mongo:%s", config.MongoDBVersion),
		ExposedPorts: []string{"27017/tcp"},
		Env: map[string]string{
			"MONGO_INITDB_ROOT_USERNAME": "test",
			"MONGO_INITDB_ROOT_PASSWORD": "test",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Waiting for connections"),
			wait.ForListeningPort("27017/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get MongoDB container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get MongoDB container port: %w", err)
	}

	return &MongoDBContainer{
		Container:    container,
		URI:          fmt.Sprintf("mongodb://test:test@%s:%s/?authSource=admin", host, port.Port()),
		DatabaseName: fmt.Sprintf("hotspot_test_%d", time.Now().UnixNano()),
	}, nil
}

func (m *MongoDBContainer) Close(ctx context.Context) error {
	if m.Container != nil {
		return m.Container.Terminate(ctx)
	}
	return nil
}

type RedisContainer struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	config := DefaultContainerConfig()
	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("redis:%s", config.RedisVersion),
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections"),
			wait.ForListeningPort("6379/tcp"),
		).WithDeadline(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis container port: %w", err)
	}

	return &RedisContainer{
		Container: container,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

func (r *RedisContainer) Close(ctx context.Context) error {
	if r.Container != nil {
		return r.Container.Terminate(ctx)
	}
	return nil
}
