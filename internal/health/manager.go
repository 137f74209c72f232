package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager holds the registered checkers and serves aggregated results to
// the probe endpoints. Each check result is cached for cacheDuration so a
// tight probing interval does not hammer the checked components.
type Manager struct {
	logger           *zap.Logger
	checkers         map[string]Checker
	cache            map[string]*cachedResult
	cacheMutex       sync.RWMutex
	cacheDuration    time.Duration
	checkTimeout     time.Duration
	serverChecker    *ServerChecker
	readinessChecker *ReadinessChecker
}

type cachedResult struct {
	result    CheckResult
	expiresAt time.Time
}

// NewManager creates a health check manager.
func NewManager(logger *zap.Logger, cacheDuration, checkTimeout time.Duration) *Manager {
	return &Manager{
		logger:        logger,
		checkers:      make(map[string]Checker),
		cache:         make(map[string]*cachedResult),
		cacheDuration: cacheDuration,
		checkTimeout:  checkTimeout,
	}
}

// RegisterChecker adds a checker to the set run by CheckAll. The server
// and readiness checkers are remembered so lifecycle transitions can be
// pushed to them directly.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers[checker.Name()] = checker

	switch c := checker.(type) {
	case *ServerChecker:
		m.serverChecker = c
	case *ReadinessChecker:
		m.readinessChecker = c
	}
}

// SetServersRunning records whether the HTTP servers are up.
func (m *Manager) SetServersRunning(running bool) {
	if m.serverChecker != nil {
		m.serverChecker.SetRunning(running)
	}
	if m.readinessChecker != nil {
		m.readinessChecker.SetRunning(running)
	}
}

// SetShuttingDown flips readiness off ahead of graceful shutdown.
func (m *Manager) SetShuttingDown(shutDown bool) {
	if m.readinessChecker != nil {
		m.readinessChecker.SetShuttingDown(shutDown)
	}
}

// CheckAll runs every registered check concurrently and returns the
// collected results.
func (m *Manager) CheckAll(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, len(m.checkers))
	resultChan := make(chan CheckResult, len(m.checkers))

	var wg sync.WaitGroup
	for _, checker := range m.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			resultChan <- m.runCheck(ctx, c)
		}(checker)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		results = append(results, result)
	}

	return results
}

// runCheck serves a cached result when one is still fresh, otherwise
// runs the check under the manager's timeout and caches the outcome.
func (m *Manager) runCheck(ctx context.Context, checker Checker) CheckResult {
	name := checker.Name()

	if cached := m.getCachedResult(name); cached != nil {
		return *cached
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	result := checker.Check(checkCtx)
	m.cacheResult(name, result)

	return result
}

func (m *Manager) getCachedResult(name string) *CheckResult {
	m.cacheMutex.RLock()
	defer m.cacheMutex.RUnlock()

	if cached, ok := m.cache[name]; ok {
		if time.Now().Before(cached.expiresAt) {
			return &cached.result
		}
	}

	return nil
}

func (m *Manager) cacheResult(name string, result CheckResult) {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()

	m.cache[name] = &cachedResult{
		result:    result,
		expiresAt: time.Now().Add(m.cacheDuration),
	}
}

// GetStartupStatus aggregates every check for the startup probe. Any
// starting check reports the whole service as starting; any error wins
// over starting.
func (m *Manager) GetStartupStatus(ctx context.Context) StartupResponse {
	results := m.CheckAll(ctx)

	response := StartupResponse{
		Status:    StatusOK,
		Timestamp: time.Now(),
		Checks:    make(map[string]Status),
	}

	allOK := true
	for _, result := range results {
		response.Checks[result.Name] = result.Status
		if result.Status != StatusOK {
			allOK = false
		}
		if result.Status == StatusStarting {
			response.Status = StatusStarting
		}
		if result.Status == StatusError {
			response.Status = StatusError
		}
	}

	if allOK {
		response.Status = StatusOK
	}

	return response
}

// GetLivenessStatus answers the liveness probe. Serving the request at
// all is the proof of life, so no checks run.
func (m *Manager) GetLivenessStatus() LivenessResponse {
	return LivenessResponse{
		Status:    StatusOK,
		Timestamp: time.Now(),
	}
}

// GetReadinessStatus answers the readiness probe from the readiness
// checker alone; the other checks have no bearing on routability.
func (m *Manager) GetReadinessStatus(ctx context.Context) ReadinessResponse {
	var result CheckResult
	if m.readinessChecker != nil {
		result = m.runCheck(ctx, m.readinessChecker)
	} else {
		result = CheckResult{
			Name:      "readiness",
			Status:    StatusOK,
			Timestamp: time.Now(),
		}
	}

	return ReadinessResponse{
		Status:    result.Status,
		Timestamp: result.Timestamp,
		Ready:     result.Status == StatusOK,
	}
}
