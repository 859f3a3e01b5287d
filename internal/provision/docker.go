package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Docker provisions one computer-use container per session through the
// docker CLI. Ports 5900 (VNC) and 6080 (noVNC) are mapped to
// docker-assigned host ports.
type Docker struct {
	Image      string
	PublicHost string
	logger     *slog.Logger
}

// NewDocker creates a docker-CLI provisioner
func NewDocker(image, publicHost string, logger *slog.Logger) *Docker {
	return &Docker{
		Image:      image,
		PublicHost: publicHost,
		logger:     logger,
	}
}

// Start runs a labeled, detached container and resolves its host port
// mappings
func (d *Docker) Start(ctx context.Context, sessionID string) (VMInfo, error) {
	run := exec.CommandContext(ctx, "docker", "run",
		"--detach",
		"--name", "computeruse-session-"+sessionID,
		"--publish", "5900",
		"--publish", "6080",
		"--shm-size", "1g",
		"--label", "app=sessiond",
		"--label", "session_id="+sessionID,
		d.Image,
	)
	out, err := run.Output()
	if err != nil {
		return VMInfo{}, fmt.Errorf("docker run: %w: %s", err, exitDetail(err))
	}
	containerID := strings.TrimSpace(string(out))

	vncPort, err := d.hostPort(ctx, containerID, "5900/tcp")
	if err != nil {
		return VMInfo{}, err
	}
	novncPort, err := d.hostPort(ctx, containerID, "6080/tcp")
	if err != nil {
		return VMInfo{}, err
	}

	return VMInfo{
		ContainerID: containerID,
		VNCHost:     d.PublicHost,
		VNCPort:     vncPort,
		NoVNCURL:    fmt.Sprintf("http://%s:%d/", d.PublicHost, novncPort),
	}, nil
}

// Stop stops and removes the container so sessions do not accumulate
// stopped containers
func (d *Docker) Stop(ctx context.Context, containerID string) error {
	if err := exec.CommandContext(ctx, "docker", "stop", "--time", "5", containerID).Run(); err != nil {
		d.logger.WarnContext(ctx, "Container stop failed, forcing removal",
			"container_id", containerID,
			"error", err,
		)
	}
	if err := exec.CommandContext(ctx, "docker", "rm", "--force", containerID).Run(); err != nil {
		return fmt.Errorf("docker rm %s: %w", containerID, err)
	}
	return nil
}

// hostPort resolves the docker-assigned host port for a container port
func (d *Docker) hostPort(ctx context.Context, containerID, containerPort string) (int, error) {
	inspect := exec.CommandContext(ctx, "docker", "inspect",
		"--format", "{{json .NetworkSettings.Ports}}", containerID)
	out, err := inspect.Output()
	if err != nil {
		return 0, fmt.Errorf("docker inspect %s: %w", containerID, err)
	}

	var ports map[string][]struct {
		HostPort string `json:"HostPort"`
	}
	if err := json.Unmarshal(out, &ports); err != nil {
		return 0, fmt.Errorf("decode port map: %w", err)
	}
	bindings := ports[containerPort]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("container %s has no binding for %s", containerID, containerPort)
	}
	port, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("parse host port %q: %w", bindings[0].HostPort, err)
	}
	return port, nil
}

func exitDetail(err error) string {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	return ""
}
