// Package cache implements the Compiler Cache: it owns one Worker per
// pipeline-defined resource type, dispatches BUILD_REQUESTs FIFO per
// Worker, and emits the build's file-lifecycle events.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgekit/forge/internal/event"
	"github.com/forgekit/forge/internal/ipc"
	"github.com/forgekit/forge/internal/pipeline"
	"github.com/forgekit/forge/internal/worker"
)

// shutdownGrace bounds how long a Worker is given to exit cleanly before
// being force-killed.
const shutdownGrace = 5 * time.Second

// defaultRespawnRate and defaultRespawnBurst are the crash-loop backoff
// defaults, overridable via RespawnLimits.
const (
	defaultRespawnRate  = 2.0
	defaultRespawnBurst = 4
)

// RespawnLimits tunes the per-resource-type crash backoff.
type RespawnLimits struct {
	RatePerSecond float64
	Burst         int
}

// Input is one unit of work submitted to the Cache via Build.
type Input struct {
	// Bundle and Target identify the calling Package/platform purely for
	// event attribution and logging; the Worker dispatch itself only ever
	// needs ResourceType/SourcePath/TargetPath/Platform.
	Bundle       string
	Target       string
	SourcePath   string
	TargetPath   string
	ResourceName string
	ResourceType string
	Platform     string
}

// Result pairs a completed (or skipped) Input with its outcome.
type Result struct {
	Input           Input
	Success         bool
	Errors          []string
	Outputs         []string
	CompilerVersion int
	// References lists further source paths the Worker read as dependency
	// inputs while building this resource.
	References []string
}

type pendingEntry struct {
	worker *worker.Worker
}

// Cache owns and lifecycle-manages Workers, one per resource type named in
// the pipeline definition.
type Cache struct {
	ProcessorRoot string
	Bus           *event.Bus

	limits RespawnLimits
	log    *slog.Logger

	mu       sync.Mutex
	workers  map[string]*pendingEntry
	limiters map[string]*rate.Limiter

	readyCount int
	totalCount int
}

// New constructs a Cache for def, rooted at processorRoot, emitting events
// on bus. limits may be the zero value to use the package defaults.
func New(processorRoot string, def pipeline.Definition, bus *event.Bus, limits RespawnLimits, log *slog.Logger) *Cache {
	if limits.RatePerSecond <= 0 {
		limits.RatePerSecond = defaultRespawnRate
	}
	if limits.Burst <= 0 {
		limits.Burst = defaultRespawnBurst
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		ProcessorRoot: processorRoot,
		Bus:           bus,
		limits:        limits,
		log:           log,
		workers:       make(map[string]*pendingEntry),
		limiters:      make(map[string]*rate.Limiter),
		totalCount:    len(def),
	}

	// Deterministic spawn order makes logs and tests reproducible.
	types := make([]string, 0, len(def))
	for t := range def {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, resourceType := range types {
		compilerDef := def[resourceType]
		env := envSlice(compilerDef.Env)
		w := worker.New(resourceType, compilerDef.Executable, compilerDef.Args, env, processorRoot, log)
		c.workers[resourceType] = &pendingEntry{worker: w}
		c.limiters[resourceType] = rate.NewLimiter(rate.Limit(limits.RatePerSecond), limits.Burst)
	}

	return c
}

func envSlice(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Start spawns every Worker and performs its handshake. Once every Worker
// has returned VERSION_DATA, a "ready" event is emitted. A spawn failure
// for any worker is fatal to Start: a required compiler that can't be
// launched aborts the whole project build.
func (c *Cache) Start(ctx context.Context) error {
	if c.totalCount == 0 {
		c.Bus.Emit(event.Event{Kind: event.KindReady})
		return nil
	}

	types := make([]string, 0, len(c.workers))
	for t := range c.workers {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, resourceType := range types {
		if err := c.workers[resourceType].worker.Spawn(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.readyCount = c.totalCount
	c.mu.Unlock()

	c.Bus.Emit(event.Event{Kind: event.KindReady})
	return nil
}

// Build submits one Input. If no Worker exists for input.ResourceType, a
// "skipped" event is emitted synchronously and the call returns
// immediately. Otherwise the request is dispatched to that resource type's
// Worker; Build blocks until the Worker replies (Workers process one
// request at a time, so this also serializes same-type requests from the
// caller's perspective).
func (c *Cache) Build(ctx context.Context, input Input) Result {
	c.mu.Lock()
	entry, ok := c.workers[input.ResourceType]
	c.mu.Unlock()

	if !ok {
		c.Bus.Emit(event.Event{Kind: event.KindSkipped, Package: input.Bundle, SourcePath: input.SourcePath, Reason: "no compiler for resource type"})
		return Result{Input: input, Success: false, Errors: []string{"no compiler for resource type"}}
	}

	c.Bus.Emit(event.Event{Kind: event.KindStarted, Package: input.Bundle, SourcePath: input.SourcePath})

	payload := ipc.BuildRequestPayload{SourcePath: input.SourcePath, TargetPath: input.TargetPath, Platform: input.Platform}
	res, err := entry.worker.Build(ctx, payload)
	if err != nil {
		c.log.Warn("worker crashed mid-build, respawning", "resourceType", input.ResourceType, "platform", input.Target, "error", err)
		c.respawn(ctx, input.ResourceType, entry)
		result := Result{Input: input, Success: false, Errors: []string{err.Error()}}
		c.Bus.Emit(event.Event{Kind: event.KindComplete, Package: input.Bundle, SourcePath: input.SourcePath, Errors: result.Errors})
		return result
	}

	result := Result{
		Input:           input,
		Success:         res.Success,
		Errors:          res.Errors,
		Outputs:         res.Outputs,
		References:      res.References,
		CompilerVersion: entry.worker.Version,
	}
	c.Bus.Emit(event.Event{Kind: event.KindComplete, Package: input.Bundle, SourcePath: input.SourcePath, Errors: result.Errors})
	return result
}

// respawn relaunches the Worker for resourceType, first waiting on that
// type's rate limiter reservation so a permanently-broken compiler cannot
// busy-loop the host.
func (c *Cache) respawn(ctx context.Context, resourceType string, entry *pendingEntry) {
	c.mu.Lock()
	limiter := c.limiters[resourceType]
	c.mu.Unlock()

	if !limiter.Allow() {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		c.log.Warn("worker crash-loop backoff engaged", "resourceType", resourceType, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			reservation.Cancel()
			return
		}
	}

	if err := entry.worker.Spawn(ctx); err != nil {
		c.log.Error("worker respawn failed", "resourceType", resourceType, "error", err)
	}
}

// Shutdown sends a termination signal to each Worker, awaits orderly exit,
// and emits "terminated".
func (c *Cache) Shutdown() {
	c.mu.Lock()
	entries := make([]*pendingEntry, 0, len(c.workers))
	for _, e := range c.workers {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *pendingEntry) {
			defer wg.Done()
			if err := e.worker.Shutdown(shutdownGrace); err != nil {
				c.log.Warn("worker shutdown error", "error", err)
			}
		}(e)
	}
	wg.Wait()

	c.Bus.Emit(event.Event{Kind: event.KindTerminated})
}
