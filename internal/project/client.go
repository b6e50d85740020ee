package project

import (
	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/manifest"
	"github.com/dshills/assetsync/internal/resource"
)

// Client receives the updates a project pushes to its consumer.
// Methods may be called from several goroutines.
type Client interface {
	// FsTreeUpdate carries the difference to the previously pushed tree.
	FsTreeUpdate(update fstree.Update)

	// ResourcesUpdate carries the complete resource configuration set.
	ResourcesUpdate(resources map[string]manifest.ResourceConfig)

	// ResourceStatus carries one resource's watch command status.
	ResourceStatus(name string, status resource.Status)

	// RestartResource asks for the named resource to be restarted.
	RestartResource(name string)

	// ReloadResource asks for the named resource definition to be reloaded.
	ReloadResource(name string)

	// Notify reports a non-fatal error.
	Notify(err error)
}

// ServerControl is the runtime server collaborator.
type ServerControl interface {
	SetEnabledResources(projectPath string, enabledPaths []string)
}

// NopClient discards every update.
type NopClient struct{}

func (NopClient) FsTreeUpdate(fstree.Update)                         {}
func (NopClient) ResourcesUpdate(map[string]manifest.ResourceConfig) {}
func (NopClient) ResourceStatus(string, resource.Status)             {}
func (NopClient) RestartResource(string)                             {}
func (NopClient) ReloadResource(string)                              {}
func (NopClient) Notify(error)                                       {}

type nopServer struct{}

func (nopServer) SetEnabledResources(string, []string) {}
