// Package docker provides a wrapper around the Docker SDK client.
package docker

import (
	"context"
	"strings"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// Client wraps the Docker SDK client with additional functionality.
type Client struct {
	*client.Client
}

// NewClient creates a new Docker client.
// It connects to the daemon at host when given, otherwise via DOCKER_HOST
// or the default unix:///var/run/docker.sock
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		logrus.Errorf("Failed to create Docker client: %v", err)
		return nil, err
	}

	logrus.Debug("Docker client created successfully")
	return &Client{Client: cli}, nil
}

// Ping verifies connection to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Client.Ping(ctx)
	if err != nil {
		logrus.Warnf("Docker daemon ping failed: %v", err)
		return err
	}
	return nil
}

// ContainerName returns the primary name of a container without the leading slash.
func ContainerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
