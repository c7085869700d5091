package status

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
)

// Target is one node the prober checks: the lab node name and its
// management address.
type Target struct {
	Lab  string
	Node string
	Addr string
}

// TargetSource supplies the current probe targets. The host's snapshot is
// the usual source, so the target list tracks document edits.
type TargetSource func(ctx context.Context) ([]Target, error)

// Prober periodically sweeps management addresses with nmap and records
// reachability observations in the repository. A node answering on its
// management address is considered running.
type Prober struct {
	repo     *Repository
	targets  TargetSource
	interval time.Duration
	ports    string
	logger   *log.Logger

	mu      sync.Mutex
	running bool
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets the sweep interval.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbePorts sets the management ports checked per target.
func WithProbePorts(ports string) ProberOption {
	return func(p *Prober) {
		if ports != "" {
			p.ports = ports
		}
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *log.Logger) ProberOption {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// SetTargets replaces the target source. The prober and its target
// source have a construction cycle (targets come from the host, which
// needs the repository), so the source may be attached after New.
func (p *Prober) SetTargets(targets TargetSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = targets
}

func (p *Prober) targetSource() TargetSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targets
}

// NewProber creates a prober over the repository and target source.
func NewProber(repo *Repository, targets TargetSource, opts ...ProberOption) *Prober {
	p := &Prober{
		repo:     repo,
		targets:  targets,
		interval: time.Minute,
		ports:    "22,443,830",
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run sweeps until the context is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.Sweep(ctx); err != nil {
		p.logger.Printf("Status sweep failed: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.Printf("Status sweep failed: %v", err)
			}
		}
	}
}

// Sweep probes every current target once and records the results.
func (p *Prober) Sweep(ctx context.Context) error {
	source := p.targetSource()
	if source == nil {
		return nil
	}
	targets, err := source(ctx)
	if err != nil {
		return fmt.Errorf("resolve probe targets: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	addrs := make([]string, 0, len(targets))
	byAddr := make(map[string][]Target, len(targets))
	for _, t := range targets {
		if t.Addr == "" {
			continue
		}
		if _, seen := byAddr[t.Addr]; !seen {
			addrs = append(addrs, t.Addr)
		}
		byAddr[t.Addr] = append(byAddr[t.Addr], t)
	}
	if len(addrs) == 0 {
		return nil
	}

	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(addrs...),
		nmap.WithPorts(p.ports),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return fmt.Errorf("probe scan: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Printf("Status sweep warnings: %v", *warnings)
	}

	up := make(map[string]bool, len(addrs))
	for _, host := range result.Hosts {
		reachable := false
		for _, port := range host.Ports {
			if port.State.State == "open" {
				reachable = true
				break
			}
		}
		for _, addr := range host.Addresses {
			up[addr.Addr] = up[addr.Addr] || reachable
		}
	}

	for addr, ts := range byAddr {
		state := "stopped"
		if up[addr] {
			state = "running"
		}
		for _, t := range ts {
			obs := Observation{Lab: t.Lab, Node: t.Node, State: state, MgmtIPv4: addr}
			if err := p.repo.Upsert(ctx, obs); err != nil {
				p.logger.Printf("Record observation for %s/%s: %v", t.Lab, t.Node, err)
			}
		}
	}
	return nil
}
