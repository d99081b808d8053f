package discovery

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"interlude/types"
)

// DockerBackend resolves service addresses by inspecting containers on the
// local engine. Compose-managed containers are looked up by their service
// container name.
type DockerBackend struct {
	dockerClient *client.Client
}

// NewDockerBackend connects to the docker engine using the standard
// environment configuration.
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerBackend{dockerClient: cli}, nil
}

// Lookup inspects the service's container and returns the host-reachable
// address of the declared port. Prefers a published host port; falls back
// to the container's own network address when the port is not published.
func (d *DockerBackend) Lookup(ctx context.Context, namespace string, svc types.ServiceLink) (string, error) {
	inspectData, err := d.dockerClient.ContainerInspect(ctx, svc.Service)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", types.NewError(types.KindDiscoveryUnavailable, "container %q not found", svc.Service)
		}
		return "", types.WrapError(types.KindDiscoveryUnavailable, err, "failed to inspect container %q", svc.Service)
	}

	if inspectData.State == nil || !inspectData.State.Running {
		return "", types.NewError(types.KindDiscoveryUnavailable, "container %q is not running", svc.Service)
	}

	containerNatPort := nat.Port(fmt.Sprintf("%d/tcp", svc.Port))
	if inspectData.NetworkSettings != nil {
		if bindings, ok := inspectData.NetworkSettings.Ports[containerNatPort]; ok {
			for _, binding := range bindings {
				if binding.HostPort == "" {
					continue
				}
				hostPort, err := nat.ParsePort(binding.HostPort)
				if err != nil {
					continue
				}
				return fmt.Sprintf("127.0.0.1:%d", hostPort), nil
			}
		}

		// Not published; reach the container directly on its network.
		for _, network := range inspectData.NetworkSettings.Networks {
			if network.IPAddress != "" {
				return fmt.Sprintf("%s:%d", network.IPAddress, svc.Port), nil
			}
		}
	}

	return "", types.NewError(types.KindDiscoveryUnavailable, "container %q exposes no reachable address for port %d", svc.Service, svc.Port)
}

var _ Backend = (*DockerBackend)(nil)
