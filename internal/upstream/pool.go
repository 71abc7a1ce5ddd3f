package upstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrNoNodes = errors.New("no RPC nodes configured")

// Pool tracks the configured Octra RPC nodes and hands out a healthy one per
// call. Health is probed in the background; with every node unhealthy the
// pool falls back to the full list rather than refusing to try.
type Pool struct {
	mu          sync.RWMutex
	nodes       []string
	status      map[string]*NodeStatus
	healthy     []string
	strategy    Strategy
	probePath   string
	interval    time.Duration
	maxFailures int
	client      *resty.Client
	logger      *zap.Logger
	stopChan    chan struct{}
	running     bool
}

type PoolConfig struct {
	Nodes       []string
	Strategy    string
	ProbePath   string        // appended to each node URL, e.g. "/address/<treasury>"
	Interval    time.Duration // default 15s
	Timeout     time.Duration // default 5s
	MaxFailures int           // default 3
}

func NewPool(cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if len(cfg.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	nodes := make([]string, 0, len(cfg.Nodes))
	status := make(map[string]*NodeStatus, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		n = strings.TrimRight(strings.TrimSpace(n), "/")
		if n == "" {
			continue
		}
		if _, dup := status[n]; dup {
			continue
		}
		nodes = append(nodes, n)
		status[n] = &NodeStatus{URL: n, IsHealthy: true, LastCheck: time.Now()}
	}
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}

	healthy := make([]string, len(nodes))
	copy(healthy, nodes)

	return &Pool{
		nodes:       nodes,
		status:      status,
		healthy:     healthy,
		strategy:    strategy,
		probePath:   cfg.ProbePath,
		interval:    cfg.Interval,
		maxFailures: cfg.MaxFailures,
		client:      resty.New().SetTimeout(cfg.Timeout),
		logger:      logger.With(zap.String("component", "rpc-pool")),
		stopChan:    make(chan struct{}),
	}, nil
}

// Next returns the node the next RPC call should go to.
func (p *Pool) Next() string {
	p.mu.RLock()
	candidates := p.healthy
	if len(candidates) == 0 {
		candidates = p.nodes
	}
	p.mu.RUnlock()

	return p.strategy.Next(candidates)
}

// Start begins periodic probing. A single-node pool is still probed so the
// admin status reflects node health.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Info("starting RPC node health checks",
		zap.Int("nodes", len(p.nodes)),
		zap.Duration("interval", p.interval),
		zap.String("strategy", p.strategy.Name()))

	go func() {
		p.checkAll()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.checkAll()
			case <-p.stopChan:
				return
			}
		}
	}()
}

func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		close(p.stopChan)
		p.running = false
	}
}

func (p *Pool) checkAll() {
	var wg sync.WaitGroup

	for _, node := range p.nodes {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			p.check(n)
		}(node)
	}

	wg.Wait()
	p.updateHealthy()
}

func (p *Pool) check(node string) {
	resp, err := p.client.R().
		SetContext(context.Background()).
		Get(node + p.probePath)
	if err != nil || resp.StatusCode() >= 500 {
		p.RecordFailure(node)
		return
	}
	p.RecordSuccess(node)
}

// RecordSuccess marks node reachable. It is also called by the RPC client
// after a successful call so recovery is noticed between probes.
func (p *Pool) RecordSuccess(node string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.status[node]
	if !ok {
		return
	}
	now := time.Now()
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		p.logger.Info("RPC node is healthy again", zap.String("node", node))
		status.IsHealthy = true
		p.rebuildHealthyLocked()
	}
}

func (p *Pool) RecordFailure(node string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.status[node]
	if !ok {
		return
	}
	now := time.Now()
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= p.maxFailures {
		p.logger.Warn("RPC node marked unhealthy",
			zap.String("node", node),
			zap.Int("failures", status.FailureCount))
		status.IsHealthy = false
		p.rebuildHealthyLocked()
	}
}

func (p *Pool) updateHealthy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebuildHealthyLocked()
}

func (p *Pool) rebuildHealthyLocked() {
	healthy := make([]string, 0, len(p.nodes))
	for _, n := range p.nodes {
		if p.status[n].IsHealthy {
			healthy = append(healthy, n)
		}
	}
	p.healthy = healthy
}

func (p *Pool) Nodes() []string {
	out := make([]string, len(p.nodes))
	copy(out, p.nodes)
	return out
}

func (p *Pool) HealthyNodes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, len(p.healthy))
	copy(out, p.healthy)
	return out
}

func (p *Pool) Statuses() []NodeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]NodeStatus, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, *p.status[n])
	}
	return out
}

func (p *Pool) OverallHealth() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case len(p.healthy) == 0:
		return Unhealthy
	case len(p.healthy) < len(p.nodes):
		return Degraded
	default:
		return Healthy
	}
}
