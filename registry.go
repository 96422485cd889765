package veo

import "sync"

// registry tracks every live Proc created by CreateProc so Shutdown can
// tear them all down deterministically. Go has no guaranteed destructor
// ordering at process exit (unlike the reference runtime's static
// at-exit hook), so callers that want a clean shutdown call Shutdown
// explicitly — typically deferred from main.
var (
	registryMu sync.Mutex
	registry   = map[int]*Proc{}
)

func registerProc(p *Proc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.id] = p
}

func unregisterProc(p *Proc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, p.id)
}

// Shutdown calls ExitProc on every process still registered, in no
// particular order, collecting the first error encountered. Safe to call
// more than once; a process already torn down via its own ExitProc is
// skipped.
func Shutdown() error {
	registryMu.Lock()
	procs := make([]*Proc, 0, len(registry))
	for _, p := range registry {
		procs = append(procs, p)
	}
	registryMu.Unlock()

	var firstErr error
	for _, p := range procs {
		if err := p.ExitProc(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NumActiveProcs reports how many processes are currently registered,
// mainly useful for tests asserting Shutdown left nothing behind.
func NumActiveProcs() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}
