package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/hbomb79/Siphon/pkg/logger"
)

var dockerLogger = logger.Get("Docker")

/**
 * The docker package provides utilities for creating, fetching and spawning
 * docker containers locally. Siphon uses this to optionally provide it's own
 * PostgreSQL database rather than requiring the user to install one.
 */

const DockerNetwork = "siphon_network"

type Manager interface {
	SpawnContainer(Container) error
	Shutdown(timeout time.Duration)
	WaitForContainer(container Container, statuses ...ContainerStatus) (ContainerStatus, error)
}

type statusUpdate struct {
	containerLabel string
	status         ContainerStatus
}

type manager struct {
	mutex      sync.Mutex
	containers map[string]Container
	waiters    []chan statusUpdate
	cli        *client.Client
	ctx        context.Context
	ctxCancel  context.CancelFunc
	wg         sync.WaitGroup
}

func NewManager() (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to construct docker client: %w", err)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	if _, err := cli.NetworkCreate(ctx, DockerNetwork, types.NetworkCreate{CheckDuplicate: true, Driver: "bridge"}); err != nil {
		dockerLogger.Warnf("Could not create docker network %s: %s\n", DockerNetwork, err.Error())
	}

	return &manager{
		containers: make(map[string]Container),
		cli:        cli,
		ctx:        ctx,
		ctxCancel:  ctxCancel,
	}, nil
}

func (mgr *manager) SpawnContainer(container Container) error {
	mgr.mutex.Lock()
	if _, ok := mgr.containers[container.Label()]; ok {
		mgr.mutex.Unlock()
		return fmt.Errorf("cannot spawn container %s as label is already in use", container)
	}
	mgr.containers[container.Label()] = container
	mgr.mutex.Unlock()

	mgr.wg.Add(1)
	if err := container.Start(mgr.ctx, mgr.cli); err != nil {
		container.Close(mgr.ctx, mgr.cli, time.Second*10)
		mgr.wg.Done()
		return err
	}

	if err := mgr.cli.NetworkConnect(mgr.ctx, DockerNetwork, container.ID(), nil); err != nil {
		dockerLogger.Errorf("Failed to connect container %s to network: %s\n", container, err.Error())
	}

	go mgr.monitorContainer(container)

	dockerLogger.Infof("Waiting for container %s to come UP\n", container)
	if _, err := mgr.WaitForContainer(container, StatusUp); err != nil {
		dockerLogger.Errorf("Container %s failed to come online: %v\n", container, err.Error())
		return err
	}

	dockerLogger.Emit(logger.SUCCESS, "Container %s is UP!\n", container)
	return nil
}

func (mgr *manager) Shutdown(timeout time.Duration) {
	mgr.mutex.Lock()
	containers := make([]Container, 0, len(mgr.containers))
	for _, c := range mgr.containers {
		containers = append(containers, c)
	}
	mgr.mutex.Unlock()

	for _, c := range containers {
		mgr.closeContainer(c, timeout)
	}

	mgr.wg.Wait()
	mgr.cli.NetworkRemove(mgr.ctx, DockerNetwork)
	mgr.ctxCancel()
}

// WaitForContainer blocks until the container provided reaches one of the
// statuses given. A DEAD container cannot change status and so waiting
// on one returns an error immediately.
func (mgr *manager) WaitForContainer(container Container, statuses ...ContainerStatus) (ContainerStatus, error) {
	ch := mgr.subscribe()
	defer mgr.unsubscribe(ch)

	if container.Status() == StatusDead {
		return StatusDead, fmt.Errorf("cannot wait on DEAD container %s", container)
	}

	for _, s := range statuses {
		if container.Status() == s {
			return s, nil
		}
	}

	for update := range ch {
		if update.containerLabel != container.Label() {
			continue
		}

		for _, s := range statuses {
			if s == update.status {
				return s, nil
			}
		}
	}

	return StatusDead, fmt.Errorf("wait on container %s aborted as container has closed", container)
}

func (mgr *manager) subscribe() chan statusUpdate {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	ch := make(chan statusUpdate, 10)
	mgr.waiters = append(mgr.waiters, ch)
	return ch
}

func (mgr *manager) unsubscribe(ch chan statusUpdate) {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	for k, v := range mgr.waiters {
		if v == ch {
			mgr.waiters = append(mgr.waiters[:k], mgr.waiters[k+1:]...)
			return
		}
	}
}

func (mgr *manager) publish(update statusUpdate) {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	for _, ch := range mgr.waiters {
		select {
		case ch <- update:
		default:
		}
	}
}

func (mgr *manager) closeContainer(cont Container, timeout time.Duration) {
	dockerLogger.Emit(logger.STOP, "Closing container %s...\n", cont)
	cont.Close(mgr.ctx, mgr.cli, timeout)
	mgr.WaitForContainer(cont, StatusDead)
}

func (mgr *manager) monitorContainer(container Container) {
	defer func() {
		dockerLogger.Infof("Container %s - Status management DETACHED\n", container)
		mgr.wg.Done()
	}()

	for {
		select {
		case stat, ok := <-container.StatusChannel():
			if !ok {
				return
			}
			dockerLogger.Infof("Container %s - Status change: %s\n", container, stat)
			mgr.publish(statusUpdate{containerLabel: container.Label(), status: stat})
		case msg, ok := <-container.MessageChannel():
			if !ok {
				return
			}
			dockerLogger.Verbosef("%s: %s\n", container, msg)
		}
	}
}
