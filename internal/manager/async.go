package manager

import (
	"context"

	"github.com/google/uuid"
)

// Async wrappers for collaborators that must never block their
// dispatch loop. Each returns a task ID echoed in the resulting
// events; outcomes travel over the event bus, never across the call.

// InstallVersionAsync starts a background install.
func (m *Manager) InstallVersionAsync(tool, ver string) string {
	return m.background(func(ctx context.Context) error {
		return m.InstallVersion(ctx, tool, ver)
	})
}

// SwitchVersionAsync starts a background switch.
func (m *Manager) SwitchVersionAsync(tool, ver string) string {
	return m.background(func(ctx context.Context) error {
		return m.SwitchVersion(ctx, tool, ver)
	})
}

// UninstallVersionAsync starts a background uninstall.
func (m *Manager) UninstallVersionAsync(tool, ver string) string {
	return m.background(func(ctx context.Context) error {
		return m.UninstallVersion(ctx, tool, ver)
	})
}

// RefreshRemoteAsync starts a background catalog refresh.
func (m *Manager) RefreshRemoteAsync(tool string) string {
	return m.background(func(ctx context.Context) error {
		_, err := m.ListRemote(ctx, tool, true)
		return err
	})
}

func (m *Manager) background(fn func(context.Context) error) string {
	id := uuid.NewString()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Failures surface via the status/event channel inside the
		// operations; the completion event just closes out the task.
		done := Event{Kind: EventTaskDone, TaskID: id}
		if err := fn(context.Background()); err != nil {
			done.Message = err.Error()
		}
		m.events.emit(done)
	}()
	return id
}
