package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	dCont "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/hbomb79/Siphon/pkg/logger"
)

type ContainerStatus int

const (
	// Container struct instance has just been created
	StatusInit ContainerStatus = iota

	// Container image has been pulled to the local docker daemon, but the
	// container itself has not yet been created
	StatusPulled

	// Container has been created from a previously pulled image
	StatusCreated

	// Container is up and working normally
	StatusUp

	// Container has crashed
	StatusCrashed

	// Container is being closed intentionally, next status should always be DOWN
	StatusClosing

	// Container is down (intentionally closed)
	StatusDown

	// Container has been removed
	StatusDead
)

func (e ContainerStatus) String() string {
	return []string{"INIT", "PULLED", "CREATED", "UP", "CRASHED", "CLOSING", "DOWN", "DEAD"}[e]
}

// pullEvent is the JSON shape the docker daemon streams while an image
// is being pulled.
type pullEvent struct {
	Status         string `json:"status"`
	Error          string `json:"error"`
	Progress       string `json:"progress"`
	ProgressDetail struct {
		Current int `json:"current"`
		Total   int `json:"total"`
	} `json:"progressDetail"`
}

type Container interface {
	// Start will pull the required Docker image and attempt to create and start
	// a container via the Docker SDK. An error will be returned from this method if
	// this process fails, however monitoring of this container occurs asynchronously
	// so no error will be returned if the container crashes after successfully starting.
	Start(context.Context, client.APIClient) error

	// Close shuts down this container by killing the running container (if running), and
	// removing the container from the docker daemon via the Docker SDK. If closing or removing
	// the container fails, this method will return an error.
	Close(context.Context, client.APIClient, time.Duration) error

	// MessageChannel returns the channel used by a running container to broadcast new
	// messages from the stdout/stderr of the container. A DEAD container will have a closed
	// message channel.
	MessageChannel() chan []byte

	// StatusChannel returns the channel used by a container to broadcast it's status.
	// A channel that has broadcast a DEAD state will soon close this channel.
	StatusChannel() chan ContainerStatus

	// Label returns the label of this container
	Label() string

	// ID returns the container ID of this container.
	ID() string

	// Status returns the current status of this container. To receive updates of
	// this status in real-time, use the StatusChannel()
	Status() ContainerStatus
}

type dockerContainer struct {
	statusChannel     chan ContainerStatus
	messageChannel    chan []byte
	label             string
	imageID           string
	containerID       string
	status            ContainerStatus
	containerConf     *dCont.Config
	containerHostConf *dCont.HostConfig
}

// NewContainer creates a new Container instance. This instance can later be
// started manually, or via a container Manager (see pkg docker.Manager).
func NewContainer(label string, image string, conf *dCont.Config, hostConf *dCont.HostConfig) Container {
	return &dockerContainer{
		statusChannel:     make(chan ContainerStatus, 5),
		messageChannel:    make(chan []byte, 5),
		imageID:           image,
		containerConf:     conf,
		containerHostConf: hostConf,
		status:            StatusInit,
		label:             label,
	}
}

func (c *dockerContainer) Start(ctx context.Context, cli client.APIClient) error {
	if c.status != StatusInit {
		return fmt.Errorf("cannot start container %s based on image %v as status is invalid", c, c.imageID)
	}

	out, err := cli.ImagePull(ctx, c.imageID, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %v for container %s: %w", c.imageID, c, err)
	}
	defer out.Close()

	eventStream := json.NewDecoder(out)
	var event *pullEvent
	for {
		if err := eventStream.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("malformed pull event stream for container %s: %w", c, err)
		}

		c.logPullEvent(event)
	}

	c.setStatus(StatusPulled)

	resp, err := cli.ContainerCreate(ctx, c.containerConf, c.containerHostConf, nil, nil, c.label)
	if err != nil {
		return fmt.Errorf("failed to create container for %s: %w", c, err)
	}
	c.containerID = resp.ID
	c.setStatus(StatusCreated)

	if err := cli.ContainerStart(ctx, resp.ID, dCont.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container for %s: %w", c, err)
	}
	c.setStatus(StatusUp)

	go c.monitorContainer(ctx, cli)
	return nil
}

func (c *dockerContainer) Close(ctx context.Context, cli client.APIClient, timeout time.Duration) error {
	if c.status == StatusDead {
		return nil
	}

	if c.canStop() {
		c.setStatus(StatusClosing)
		timeoutSeconds := int(timeout.Seconds())
		if err := cli.ContainerStop(ctx, c.containerID, dCont.StopOptions{Timeout: &timeoutSeconds}); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", c, err)
		}

		c.setStatus(StatusDown)
	}

	if c.canRemove() {
		if err := cli.ContainerRemove(ctx, c.containerID, dCont.RemoveOptions{}); err != nil {
			return fmt.Errorf("failed to remove container %s: %w", c, err)
		}
	}
	c.setStatus(StatusDead)

	close(c.statusChannel)
	close(c.messageChannel)

	return nil
}

func (c *dockerContainer) MessageChannel() chan []byte {
	return c.messageChannel
}

func (c *dockerContainer) StatusChannel() chan ContainerStatus {
	return c.statusChannel
}

func (c *dockerContainer) ID() string {
	return c.containerID
}

func (c *dockerContainer) Label() string {
	return c.label
}

func (c *dockerContainer) Status() ContainerStatus {
	return c.status
}

func (c *dockerContainer) String() string {
	if c.containerID == "" {
		return fmt.Sprintf("%v[...]", c.label)
	}

	return fmt.Sprintf("%v[%v]", c.label, c.containerID[:10])
}

func (c *dockerContainer) canStop() bool {
	return c.status == StatusClosing || c.status == StatusCreated || c.status == StatusUp || c.status == StatusCrashed
}

func (c *dockerContainer) canRemove() bool {
	return c.canStop() || c.status == StatusDown || c.status == StatusCrashed
}

func (c *dockerContainer) setStatus(stat ContainerStatus) {
	if c.status == StatusDead {
		return
	}

	c.status = stat
	c.statusChannel <- c.status
}

func (c *dockerContainer) logPullEvent(ev *pullEvent) {
	if ev.Error != "" {
		dockerLogger.Emit(logger.ERROR, "\n%s: %s\n", c, ev.Error)
	} else if ev.Progress != "" {
		dockerLogger.Emit(logger.DEBUG, "%s: %s\n", c, ev.Progress)
	} else if ev.Status != "" {
		dockerLogger.Emit(logger.DEBUG, "%s: %s\n", c, ev.Status)
	}
}

func (c *dockerContainer) monitorContainer(ctx context.Context, cli client.APIClient) {
	reader, err := cli.ContainerLogs(ctx, c.containerID, dCont.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
		Details:    false,
	})
	if err != nil {
		c.setStatus(StatusCrashed)
		return
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		if c.status != StatusUp {
			break
		}

		c.messageChannel <- scanner.Bytes()
	}

	if c.status != StatusClosing {
		c.setStatus(StatusCrashed)
	}
}
