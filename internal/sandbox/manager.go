package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/jsonfile"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/events"
	"github.com/devcrew/devcrew/internal/events/bus"
)

const (
	// WorkspaceMount is where the session workspace appears inside the container.
	WorkspaceMount = "/workspace"

	containerNamePrefix = "devcrew-sbx-"
	metadataFileName    = "sandboxes_meta.json"
	startRetries        = 3
	stopGracePeriod     = 10 * time.Second
)

// Instance is a live per-session sandbox.
type Instance struct {
	SessionID     string
	OwnerID       string
	ContainerName string
	ContainerID   string
	WorkspacePath string
	// PortMap maps container port → host port.
	PortMap  map[int]int
	LastUsed time.Time
}

// metaEntry is the persisted form of an instance in sandboxes_meta.json.
type metaEntry struct {
	OwnerID  string         `json:"owner_id"`
	LastUsed time.Time      `json:"last_used"`
	PortMap  map[string]int `json:"port_map"`
}

// Manager owns every sandbox instance. It is the single mutator of port
// maps and last-used timestamps.
type Manager struct {
	cfg   config.SandboxConfig
	rt    Runtime
	alloc *PortAllocator
	bus   bus.EventBus
	log   *logger.Logger

	mu        sync.Mutex
	instances map[string]*Instance
	metaPath  string
}

// NewManager creates a sandbox manager rooted at cfg.BasePath. eventBus
// may be nil to disable lifecycle event publication.
func NewManager(cfg config.SandboxConfig, rt Runtime, eventBus bus.EventBus, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "invalid sandbox base path", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to create sandbox base directory", err)
	}
	cfg.BasePath = base

	return &Manager{
		cfg:       cfg,
		rt:        rt,
		alloc:     NewPortAllocator(cfg.PortStart, cfg.PortEnd),
		bus:       eventBus,
		log:       log.WithFields(zap.String("component", "sandbox_manager")),
		instances: make(map[string]*Instance),
		metaPath:  filepath.Join(base, metadataFileName),
	}, nil
}

// ContainerName returns the canonical container name for a session.
func ContainerName(sessionID string) string {
	return containerNamePrefix + sessionID
}

// WorkspacePath returns the host-side workspace directory for a session.
func (m *Manager) WorkspacePath(sessionID string) string {
	return filepath.Join(m.cfg.BasePath, sessionID)
}

// EnsureSessionContainer returns the session's sandbox, creating or
// reviving the container as needed and marking it active.
func (m *Manager) EnsureSessionContainer(ctx context.Context, sessionID, ownerID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instances[sessionID]; ok {
		inst.LastUsed = time.Now().UTC()
		m.persistMetadataLocked()
		return inst.clone(), nil
	}

	workspace := m.WorkspacePath(sessionID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindSandbox, "failed to create workspace directory", err)
	}

	name := ContainerName(sessionID)
	status, err := m.rt.FindContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	if status != nil {
		inst, err := m.adoptLocked(ctx, sessionID, ownerID, workspace, status)
		if err != nil {
			return nil, err
		}
		return inst.clone(), nil
	}

	inst, err := m.startFreshLocked(ctx, sessionID, ownerID, workspace)
	if err != nil {
		return nil, err
	}
	m.publishLifecycle(ctx, events.EventSandboxCreated, inst)
	return inst.clone(), nil
}

// adoptLocked recovers an instance from a container that survived a
// process restart, reserving its existing host-port bindings.
func (m *Manager) adoptLocked(ctx context.Context, sessionID, ownerID, workspace string, status *ContainerStatus) (*Instance, error) {
	if !status.Running {
		if err := m.rt.StartContainer(ctx, status.ID); err != nil {
			return nil, err
		}
		refreshed, err := m.rt.FindContainer(ctx, status.Name)
		if err != nil {
			return nil, err
		}
		if refreshed != nil {
			status = refreshed
		}
	}

	for _, hostPort := range status.Ports {
		if err := m.alloc.Reserve(hostPort); err != nil {
			m.log.Warn("recovered container holds out-of-range host port",
				zap.String("session_id", sessionID),
				zap.Int("host_port", hostPort))
		}
	}

	inst := &Instance{
		SessionID:     sessionID,
		OwnerID:       ownerID,
		ContainerName: status.Name,
		ContainerID:   status.ID,
		WorkspacePath: workspace,
		PortMap:       status.Ports,
		LastUsed:      time.Now().UTC(),
	}
	m.instances[sessionID] = inst
	m.persistMetadataLocked()
	m.log.Info("adopted surviving sandbox container",
		zap.String("session_id", sessionID),
		zap.String("container_id", status.ID[:12]))
	return inst, nil
}

// startFreshLocked creates a new container, retrying port allocation on
// collision up to the retry budget.
func (m *Manager) startFreshLocked(ctx context.Context, sessionID, ownerID, workspace string) (*Instance, error) {
	networkMode := ""
	switch {
	case m.cfg.DisableNetwork:
		networkMode = "none"
	case m.cfg.Network != "":
		if err := m.rt.EnsureNetwork(ctx, m.cfg.Network); err != nil {
			return nil, err
		}
		networkMode = m.cfg.Network
	}

	memory, err := parseMemory(m.cfg.Memory)
	if err != nil {
		return nil, err
	}

	var env []string
	for k, v := range m.cfg.ExtraEnvMap() {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	exposed := m.cfg.ExposedPortList()
	name := ContainerName(sessionID)

	var lastErr error
	for attempt := 1; attempt <= startRetries; attempt++ {
		portMap := make(map[int]int, len(exposed))
		acquired := make([]int, 0, len(exposed))

		allocFailed := false
		for _, containerPort := range exposed {
			hostPort, err := m.alloc.Acquire()
			if err != nil {
				for _, p := range acquired {
					m.alloc.Release(p)
				}
				lastErr = err
				allocFailed = true
				break
			}
			portMap[containerPort] = hostPort
			acquired = append(acquired, hostPort)
		}
		if allocFailed {
			break
		}

		spec := ContainerSpec{
			Name:            name,
			Image:           m.cfg.Image,
			Cmd:             strings.Fields(m.cfg.Command),
			Env:             env,
			WorkingDir:      WorkspaceMount,
			NetworkMode:     networkMode,
			Memory:          memory,
			CPUs:            m.cfg.CPU,
			Labels:          map[string]string{"devcrew.session": sessionID, "devcrew.owner": ownerID},
			WorkspaceSource: workspace,
			WorkspaceTarget: WorkspaceMount,
			Ports:           portMap,
		}

		id, err := m.rt.CreateContainer(ctx, spec)
		if err == nil {
			err = m.rt.StartContainer(ctx, id)
			if err != nil {
				_ = m.rt.RemoveContainer(ctx, id, true)
			}
		}
		if err != nil {
			for _, p := range acquired {
				m.alloc.Release(p)
			}
			lastErr = err
			if isPortCollision(err) {
				m.log.Warn("host port collision, retrying",
					zap.String("session_id", sessionID),
					zap.Int("attempt", attempt))
				continue
			}
			return nil, err
		}

		inst := &Instance{
			SessionID:     sessionID,
			OwnerID:       ownerID,
			ContainerName: name,
			ContainerID:   id,
			WorkspacePath: workspace,
			PortMap:       portMap,
			LastUsed:      time.Now().UTC(),
		}
		m.instances[sessionID] = inst
		m.persistMetadataLocked()
		m.log.Info("started sandbox container",
			zap.String("session_id", sessionID),
			zap.String("container_id", id[:12]),
			zap.Any("port_map", portMap))
		return inst, nil
	}

	if lastErr == nil {
		lastErr = apperr.New(apperr.KindSandbox, "failed to start sandbox container")
	}
	return nil, lastErr
}

// isPortCollision reports whether the error looks like the daemon-side
// "port is already allocated" race, which is worth a retry with fresh ports.
func isPortCollision(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "address already in use")
}

// DestroySessionContainer stops and removes the session's sandbox,
// releasing its ports and metadata.
func (m *Manager) DestroySessionContainer(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyLocked(ctx, sessionID)
}

func (m *Manager) destroyLocked(ctx context.Context, sessionID string) error {
	inst, ok := m.instances[sessionID]
	if !ok {
		// Still clean up any persisted entry or surviving container.
		status, err := m.rt.FindContainer(ctx, ContainerName(sessionID))
		if err == nil && status != nil {
			_ = m.rt.StopContainer(ctx, status.ID, stopGracePeriod)
			_ = m.rt.RemoveContainer(ctx, status.ID, true)
		}
		m.persistMetadataLocked()
		return nil
	}

	if err := m.rt.StopContainer(ctx, inst.ContainerID, stopGracePeriod); err != nil {
		m.log.Warn("graceful stop failed, forcing removal",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	if err := m.rt.RemoveContainer(ctx, inst.ContainerID, true); err != nil {
		m.log.Warn("container removal failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	for _, hostPort := range inst.PortMap {
		m.alloc.Release(hostPort)
	}
	delete(m.instances, sessionID)
	m.persistMetadataLocked()
	m.publishLifecycle(ctx, events.EventSandboxDestroyed, inst)
	m.log.Info("destroyed sandbox", zap.String("session_id", sessionID))
	return nil
}

// DestroyAll destroys every live instance, optionally filtered by owner.
func (m *Manager) DestroyAll(ctx context.Context, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []string
	for id, inst := range m.instances {
		if ownerID == "" || inst.OwnerID == ownerID {
			targets = append(targets, id)
		}
	}
	sort.Strings(targets)

	for _, id := range targets {
		if err := m.destroyLocked(ctx, id); err != nil {
			return targets, err
		}
	}
	return targets, nil
}

// MarkActive refreshes the session's last-used timestamp.
func (m *Manager) MarkActive(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[sessionID]; ok {
		inst.LastUsed = time.Now().UTC()
		m.persistMetadataLocked()
	}
}

// CleanupIdle destroys every instance idle for at least the configured
// idle timeout and returns the reaped session ids. A zero idle timeout
// disables reaping.
func (m *Manager) CleanupIdle(ctx context.Context, now time.Time) []string {
	idle := m.cfg.IdleTimeoutDuration()
	if idle <= 0 {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []string
	for id, inst := range m.instances {
		if now.Sub(inst.LastUsed) >= idle {
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)

	for _, id := range reaped {
		if err := m.destroyLocked(ctx, id); err != nil {
			m.log.Warn("failed to reap idle sandbox",
				zap.String("session_id", id),
				zap.Error(err))
			continue
		}
		m.publishLifecycle(ctx, events.EventSandboxReaped, &Instance{SessionID: id})
	}
	return reaped
}

// Instance returns a copy of the live instance for a session, if any.
func (m *Manager) Instance(sessionID string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[sessionID]
	if !ok {
		return nil, false
	}
	return inst.clone(), true
}

// PreviewURLs lists the session's bound preview endpoints as
// container port → URL on the configured preview host.
func (m *Manager) PreviewURLs(sessionID string) map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[sessionID]
	if !ok {
		return nil
	}
	urls := make(map[int]string, len(inst.PortMap))
	for containerPort, hostPort := range inst.PortMap {
		urls[containerPort] = fmt.Sprintf("%s:%d", strings.TrimSuffix(m.cfg.PreviewHost, "/"), hostPort)
	}
	return urls
}

// Restore replays the metadata file after a process restart. Entries
// whose container no longer exists are discarded; surviving containers
// are adopted with their ports reserved.
func (m *Manager) Restore(ctx context.Context) error {
	var meta map[string]metaEntry
	if err := jsonfile.Read(m.metaPath, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.KindSandbox, "failed to read sandbox metadata", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, entry := range meta {
		status, err := m.rt.FindContainer(ctx, ContainerName(sessionID))
		if err != nil {
			return err
		}
		if status == nil {
			m.log.Info("dropping stale sandbox metadata entry",
				zap.String("session_id", sessionID))
			continue
		}
		workspace := m.WorkspacePath(sessionID)
		inst, err := m.adoptLocked(ctx, sessionID, entry.OwnerID, workspace, status)
		if err != nil {
			m.log.Warn("failed to adopt sandbox during restore",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		if !entry.LastUsed.IsZero() {
			inst.LastUsed = entry.LastUsed
		}
	}
	m.persistMetadataLocked()
	return nil
}

// persistMetadataLocked atomically rewrites sandboxes_meta.json from the
// live instance table. Callers hold m.mu.
func (m *Manager) persistMetadataLocked() {
	meta := make(map[string]metaEntry, len(m.instances))
	for sessionID, inst := range m.instances {
		ports := make(map[string]int, len(inst.PortMap))
		for containerPort, hostPort := range inst.PortMap {
			ports[strconv.Itoa(containerPort)] = hostPort
		}
		meta[sessionID] = metaEntry{
			OwnerID:  inst.OwnerID,
			LastUsed: inst.LastUsed,
			PortMap:  ports,
		}
	}
	if err := jsonfile.Write(m.metaPath, meta); err != nil {
		m.log.Error("failed to persist sandbox metadata", zap.Error(err))
	}
}

func (m *Manager) publishLifecycle(ctx context.Context, eventType string, inst *Instance) {
	if m.bus == nil {
		return
	}
	ev := bus.NewEvent(eventType, "sandbox-manager", map[string]any{
		"session_id": inst.SessionID,
		"owner_id":   inst.OwnerID,
	})
	if err := m.bus.Publish(ctx, events.SubjectSandboxLifecycle, ev); err != nil {
		m.log.Warn("sandbox lifecycle publish failed", zap.Error(err))
	}
}

func (i *Instance) clone() *Instance {
	out := *i
	out.PortMap = make(map[int]int, len(i.PortMap))
	for k, v := range i.PortMap {
		out.PortMap[k] = v
	}
	return &out
}

// parseMemory converts a human memory limit ("512m", "1g", "1073741824")
// to bytes. Empty means unlimited.
func parseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.KindSandbox, fmt.Sprintf("invalid memory limit %q", s))
	}
	return n * mult, nil
}
