// Package procdata implements ProcessData (spec component F): a
// process's environment, fd/resource table, code-segment page count,
// and semaphore set.
package procdata

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/iansmith/mazkern/internal/collab"
	"github.com/iansmith/mazkern/internal/semaphore"
)

// ProcessData bundles everything spec.md §3 describes for the type of
// the same name.
type ProcessData struct {
	mu        deadlock.RWMutex
	env       *Env
	resources map[byte]Resource
	console   collab.Console

	CodeSegmentPages int
	Semaphores       *semaphore.Set
}

// New builds a fresh ProcessData with fd 0/1/2 pre-populated with
// stdin/stdout/stderr backed by console.
func New(console collab.Console) *ProcessData {
	return &ProcessData{
		env: NewEnv(),
		resources: map[byte]Resource{
			fdStdin:  {Kind: ResourceStdin},
			fdStdout: {Kind: ResourceStdout},
			fdStderr: {Kind: ResourceStderr},
		},
		console:    console,
		Semaphores: semaphore.NewSet(),
	}
}

func (pd *ProcessData) Env() *Env { return pd.env }

// Fork returns a new ProcessData sharing this one's env handle (both
// parent and child observe each other's env mutations) but with a
// duplicated fd table and a semaphore set copied sans waiters, per
// spec.md §9's resolution of the env/resources ambiguity.
func (pd *ProcessData) Fork() *ProcessData {
	pd.mu.RLock()
	defer pd.mu.RUnlock()
	resources := make(map[byte]Resource, len(pd.resources))
	for fd, r := range pd.resources {
		resources[fd] = r
	}
	return &ProcessData{
		env:              pd.env,
		resources:        resources,
		console:          pd.console,
		CodeSegmentPages: pd.CodeSegmentPages,
		Semaphores:       pd.Semaphores.Clone(),
	}
}

// CleanUp closes every open file-backed fd, releasing the underlying
// handles.
func (pd *ProcessData) CleanUp() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	for fd, r := range pd.resources {
		if r.Kind == ResourceFile && r.File != nil {
			r.File.Close()
		}
		delete(pd.resources, fd)
	}
}
