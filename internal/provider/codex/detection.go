// Package codex implements the Codex provider's request preparation:
// forced streaming, session identity headers, and the mandatory system
// instruction injection the ChatGPT backend requires (spec.md §4.4.2).
package codex

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultCaptureTimeout bounds the one-shot CLI instruction capture.
const DefaultCaptureTimeout = 30 * time.Second

// Fingerprint is the captured mandatory system instruction the real Codex
// CLI opens every conversation with.
type Fingerprint struct {
	CLIVersion  string `json:"cli_version"`
	Instruction string `json:"instruction"`
	CapturedAt  int64  `json:"captured_at"`
}

// CLIRunner launches the real vendor CLI so it issues one request against
// captureURL. Swapped out in tests.
type CLIRunner func(ctx context.Context, captureURL string) error

// DefaultCLIRunner invokes the real `codex` binary pointed at the local
// capture server via its base-URL override environment variable.
func DefaultCLIRunner(ctx context.Context, captureURL string) error {
	cmd := exec.CommandContext(ctx, "codex", "exec", "hello")
	cmd.Env = append(os.Environ(), "OPENAI_BASE_URL="+captureURL)
	return cmd.Run()
}

// DetectionService owns the one-shot CLI instruction capture and its
// on-disk/in-process cache, keyed by CLI version.
type DetectionService struct {
	cacheDir string
	runner   CLIRunner
	timeout  time.Duration

	mem *gocache.Cache

	mu          sync.RWMutex
	fingerprint *Fingerprint
}

// NewDetectionService creates a detection service caching captures under
// cacheDir (empty disables disk caching).
func NewDetectionService(cacheDir string, runner CLIRunner) *DetectionService {
	if runner == nil {
		runner = DefaultCLIRunner
	}
	return &DetectionService{
		cacheDir: cacheDir,
		runner:   runner,
		timeout:  DefaultCaptureTimeout,
		mem:      gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// Current returns the most recently captured fingerprint, if any.
func (d *DetectionService) Current() (Fingerprint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.fingerprint == nil {
		return Fingerprint{}, false
	}
	return *d.fingerprint, true
}

func (d *DetectionService) cachePath(cliVersion string) string {
	if d.cacheDir == "" {
		return ""
	}
	return filepath.Join(d.cacheDir, fmt.Sprintf("codex-fingerprint-%s.json", cliVersion))
}

// Capture returns the cached capture for cliVersion, falling back to disk
// and finally to a live subprocess run.
func (d *DetectionService) Capture(ctx context.Context, cliVersion string) (Fingerprint, error) {
	if v, ok := d.mem.Get(cliVersion); ok {
		fp := v.(Fingerprint)
		d.setCurrent(fp)
		return fp, nil
	}
	if fp, ok := d.loadFromDisk(cliVersion); ok {
		d.mem.Set(cliVersion, fp, gocache.NoExpiration)
		d.setCurrent(fp)
		return fp, nil
	}

	fp, err := d.captureLive(ctx, cliVersion)
	if err != nil {
		return Fingerprint{}, err
	}
	d.mem.Set(cliVersion, fp, gocache.NoExpiration)
	d.setCurrent(fp)
	_ = d.saveToDisk(fp)
	return fp, nil
}

func (d *DetectionService) setCurrent(fp Fingerprint) {
	d.mu.Lock()
	d.fingerprint = &fp
	d.mu.Unlock()
}

func (d *DetectionService) loadFromDisk(cliVersion string) (Fingerprint, bool) {
	path := d.cachePath(cliVersion)
	if path == "" {
		return Fingerprint{}, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a version string under an operator-configured cache dir
	if err != nil {
		return Fingerprint{}, false
	}
	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return Fingerprint{}, false
	}
	return fp, true
}

func (d *DetectionService) saveToDisk(fp Fingerprint) error {
	path := d.cachePath(fp.CLIVersion)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("codex: mkdir fingerprint cache dir: %w", err)
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("codex: encode fingerprint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "fingerprint-*.json.tmp")
	if err != nil {
		return fmt.Errorf("codex: create temp fingerprint file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("codex: write temp fingerprint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("codex: close temp fingerprint file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (d *DetectionService) captureLive(ctx context.Context, cliVersion string) (Fingerprint, error) {
	captured := make(chan Fingerprint, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Instructions string `json:"instructions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		fp := Fingerprint{
			CLIVersion:  cliVersion,
			Instruction: body.Instructions,
			CapturedAt:  time.Now().Unix(),
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"type\":\"response.completed\",\"response\":{\"output\":[]}}\n\n"))

		select {
		case captured <- fp:
		default:
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Fingerprint{}, fmt.Errorf("codex: listen for capture server: %w", err)
	}
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	captureCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- d.runner(captureCtx, "http://"+ln.Addr().String()) }()

	select {
	case fp := <-captured:
		return fp, nil
	case err := <-runErr:
		select {
		case fp := <-captured:
			return fp, nil
		default:
		}
		if err != nil {
			return Fingerprint{}, fmt.Errorf("codex: fingerprint capture subprocess: %w", err)
		}
		return Fingerprint{}, fmt.Errorf("codex: fingerprint capture subprocess exited without a request")
	case <-captureCtx.Done():
		return Fingerprint{}, fmt.Errorf("codex: fingerprint capture timed out: %w", captureCtx.Err())
	}
}

// Watch re-captures on an interval if the installed CLI's version changed
// (see SPEC_FULL.md §4); off by default.
func (d *DetectionService) Watch(ctx context.Context, interval time.Duration, versionOf func() (string, error), onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			version, err := versionOf()
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			d.mu.RLock()
			current := d.fingerprint
			d.mu.RUnlock()
			if current != nil && current.CLIVersion == version {
				continue
			}
			if _, err := d.Capture(ctx, version); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
