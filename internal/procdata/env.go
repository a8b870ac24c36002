package procdata

import "github.com/sasha-s/go-deadlock"

// Env is a shared-ownership string environment: per spec.md §9's Open
// Question resolution, env is shared across a fork (both parent and
// child observe each other's mutations through the same handle).
type Env struct {
	mu   deadlock.RWMutex
	vars map[string]string
}

func NewEnv() *Env {
	return &Env{vars: make(map[string]string)}
}

func (e *Env) Get(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[key]
	return v, ok
}

func (e *Env) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[key] = value
}

// Snapshot returns a copy of the current env for display (ps/info).
func (e *Env) Snapshot() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}
