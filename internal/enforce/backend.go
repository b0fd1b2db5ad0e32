package enforce

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fokuslabs/focusgate/internal/logging"
	ps "github.com/mitchellh/go-ps"
)

// LogBackend only logs what it would block. It is the fallback when the
// process lacks the privileges the real backend needs, and doubles as the
// dry-run mode.
type LogBackend struct {
	log logging.Logger
}

func NewLogBackend(log logging.Logger) *LogBackend {
	return &LogBackend{log: log.With("module", "enforce_backend", "backend", "log")}
}

func (b *LogBackend) ApplyBlocks(ctx context.Context, apps []string, domains []string) error {
	b.log.Info(ctx, "would apply blocks", "apps", strings.Join(apps, ","), "domains", strings.Join(domains, ","))
	return nil
}

func (b *LogBackend) UpdateWebsites(ctx context.Context, domains []string) error {
	b.log.Info(ctx, "would update blocked websites", "domains", strings.Join(domains, ","))
	return nil
}

func (b *LogBackend) RemoveAllBlocks(ctx context.Context) error {
	b.log.Info(ctx, "would remove all blocks")
	return nil
}

const (
	hostsMarkerBegin = "# focusgate begin"
	hostsMarkerEnd   = "# focusgate end"
)

// ProcBackend enforces blocks on desktop platforms: blocked websites are
// sinkholed through the hosts file and blocked apps are terminated by a
// periodic process scan.
type ProcBackend struct {
	hostsPath string
	interval  time.Duration
	log       logging.Logger

	mu     sync.Mutex
	apps   map[string]struct{}
	cancel context.CancelFunc
}

func NewProcBackend(hostsPath string, scanInterval time.Duration, log logging.Logger) *ProcBackend {
	if hostsPath == "" {
		hostsPath = "/etc/hosts"
	}
	if scanInterval <= 0 {
		scanInterval = 5 * time.Second
	}
	return &ProcBackend{
		hostsPath: hostsPath,
		interval:  scanInterval,
		log:       log.With("module", "enforce_backend", "backend", "proc"),
	}
}

func (b *ProcBackend) ApplyBlocks(ctx context.Context, apps []string, domains []string) error {
	if err := b.writeHosts(domains); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.apps = make(map[string]struct{}, len(apps))
	for _, a := range apps {
		b.apps[strings.ToLower(a)] = struct{}{}
	}

	if b.cancel == nil && len(b.apps) > 0 {
		scanCtx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.scanLoop(scanCtx)
	}
	return nil
}

func (b *ProcBackend) UpdateWebsites(ctx context.Context, domains []string) error {
	return b.writeHosts(domains)
}

func (b *ProcBackend) RemoveAllBlocks(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.apps = nil
	b.mu.Unlock()

	return b.writeHosts(nil)
}

// writeHosts replaces the focusgate-managed block in the hosts file with
// sinkhole entries for the given domains; nil clears the block.
func (b *ProcBackend) writeHosts(domains []string) error {
	data, err := os.ReadFile(b.hostsPath)
	if err != nil {
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	var kept []string
	inBlock := false
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case hostsMarkerBegin:
			inBlock = true
			continue
		case hostsMarkerEnd:
			inBlock = false
			continue
		}
		if !inBlock {
			kept = append(kept, line)
		}
	}

	out := strings.TrimRight(strings.Join(kept, "\n"), "\n")
	if len(domains) > 0 {
		var sb strings.Builder
		sb.WriteString(out)
		sb.WriteString("\n" + hostsMarkerBegin + "\n")
		for _, d := range domains {
			sb.WriteString("0.0.0.0 " + d + "\n")
			sb.WriteString("0.0.0.0 www." + d + "\n")
		}
		sb.WriteString(hostsMarkerEnd)
		out = sb.String()
	}
	out += "\n"

	if err := os.WriteFile(b.hostsPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	return nil
}

func (b *ProcBackend) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.killBlocked(ctx)
		}
	}
}

func (b *ProcBackend) killBlocked(ctx context.Context) {
	procs, err := ps.Processes()
	if err != nil {
		b.log.Warn(ctx, "process scan failed", "error", err)
		return
	}

	b.mu.Lock()
	blocked := b.apps
	b.mu.Unlock()

	for _, p := range procs {
		name := strings.ToLower(p.Executable())
		if _, ok := blocked[name]; !ok {
			continue
		}
		proc, err := os.FindProcess(p.Pid())
		if err != nil {
			continue
		}
		if err := proc.Kill(); err != nil {
			b.log.Warn(ctx, "failed to terminate blocked app", "app", name, "pid", p.Pid(), "error", err)
		} else {
			b.log.Info(ctx, "terminated blocked app", "app", name, "pid", p.Pid())
		}
	}
}

// DetectBackend picks the strongest backend the process can actually drive:
// the hosts-file/process backend when the hosts file is writable, the
// logging backend otherwise.
func DetectBackend(hostsPath string, scanInterval time.Duration, log logging.Logger) Backend {
	if hostsPath == "" {
		hostsPath = "/etc/hosts"
	}
	f, err := os.OpenFile(hostsPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return NewLogBackend(log)
	}
	_ = f.Close()
	return NewProcBackend(hostsPath, scanInterval, log)
}
