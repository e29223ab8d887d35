package registry

import (
	"context"
	"log"
	"time"
)

// heartbeatRestartDelay is how long a crashed sweep waits before the
// supervisor restarts the loop.
const heartbeatRestartDelay = 5 * time.Second

// StartHeartbeat launches the background availability loop. The first
// sweep runs immediately to rebuild the in-memory status map, then one
// sweep runs per interval. Calling StartHeartbeat while a loop is running
// is a no-op.
func (r *Registry) StartHeartbeat(interval time.Duration) {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	if r.hbStop != nil {
		return
	}
	r.hbStop = make(chan struct{})
	r.hbDone = make(chan struct{})
	go r.heartbeatLoop(r.hbStop, r.hbDone, interval)
	log.Printf("model heartbeat started, interval %s", interval)
}

// StopHeartbeat requests a cooperative stop and waits for the loop to
// exit. The stop interrupts the wait between cycles, not an in-flight
// probe.
func (r *Registry) StopHeartbeat() {
	r.hbMu.Lock()
	stop, done := r.hbStop, r.hbDone
	r.hbStop, r.hbDone = nil, nil
	r.hbMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	log.Println("model heartbeat stopped")
}

// heartbeatLoop runs sweeps until stopped, restarting after a bounded
// delay if a sweep panics so one bad cycle cannot kill the monitor.
func (r *Registry) heartbeatLoop(stop, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.runSweep()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.runSweep()
		}
	}
}

// runSweep executes one sweep, converting a panic into a logged pause
// instead of crashing the loop. The pause runs on the loop goroutine, so
// it holds back the next tick; the ticker itself keeps running and the
// loop resumes on the first tick after the pause.
func (r *Registry) runSweep() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("heartbeat sweep panicked, resuming after %s: %v", heartbeatRestartDelay, rec)
			time.Sleep(heartbeatRestartDelay)
		}
	}()
	r.sweep(context.Background())
}

// sweep probes every persisted model once and persists availability
// flips. Transitions are logged at the point of change only; steady-state
// checks stay silent to bound log volume.
func (r *Registry) sweep(ctx context.Context) {
	all, err := r.store.GetAll(ctx)
	if err != nil {
		log.Printf("heartbeat: listing models failed: %v", err)
		return
	}

	now := time.Now()
	for _, m := range all {
		backendURL := m.BackendURL
		if backendURL == "" {
			backendURL = r.defaultURL
		}
		available := r.probeModel(ctx, m.ID, backendURL)

		r.hbMu.Lock()
		r.hbStatus[m.ID] = HeartbeatRecord{Available: available, CheckedAt: now}
		r.hbMu.Unlock()

		if m.IsActive == available {
			continue
		}
		m.IsActive = available
		if err := r.store.Update(ctx, m); err != nil {
			log.Printf("heartbeat: persisting status of %s failed: %v", m.ID, err)
			continue
		}
		r.cache.InvalidateAllModels(ctx)
		// The snapshot sweep only reaches per-model keys it finds in the
		// snapshot list; the entry written by Get must be overwritten
		// directly or it serves the pre-flip descriptor until its TTL.
		r.cache.CacheModel(ctx, m)
		if available {
			log.Printf("model %s is available again", m.ID)
		} else {
			log.Printf("model %s became unavailable", m.ID)
		}
	}

	r.hbMu.Lock()
	r.hbSweep = now
	r.hbMu.Unlock()
}

// probeModel reports whether the backend's listing contains the model. A
// probe error counts as absent: fail closed, a transient blip deactivates
// the model until the next successful sweep.
func (r *Registry) probeModel(ctx context.Context, modelID, backendURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	reported, err := r.fetchBackendModels(ctx, backendURL)
	if err != nil {
		log.Printf("heartbeat: probing %s at %s failed: %v", modelID, backendURL, err)
		return false
	}
	for _, bm := range reported {
		if bm.ID == modelID {
			return true
		}
	}
	return false
}

// HeartbeatStatus returns a snapshot of the in-memory availability map.
func (r *Registry) HeartbeatStatus() map[string]HeartbeatRecord {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	out := make(map[string]HeartbeatRecord, len(r.hbStatus))
	for id, rec := range r.hbStatus {
		out[id] = rec
	}
	return out
}

// LastSweep returns when the most recent sweep finished; zero before the
// first sweep completes. Exposed as the loop's liveness signal.
func (r *Registry) LastSweep() time.Time {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	return r.hbSweep
}
