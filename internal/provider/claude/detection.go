package claude

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

	"github.com/ccproxy/ccproxy/pkg/types"
)

// DefaultCaptureTimeout bounds how long the one-shot CLI fingerprint
// capture waits for the subprocess to make its first request (spec.md §5).
const DefaultCaptureTimeout = 30 * time.Second

// capturedHeaderBlocklist lists headers that are never captured or overlaid
// onto an outgoing request, no matter what the real CLI sent them as —
// these are the ones Prepare itself owns.
var capturedHeaderBlocklist = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"host":          true,
	"content-length": true,
}

// Fingerprint is one snapshot of what the real Claude CLI sends: the
// non-sensitive headers it attaches to every request, and the system
// prompt blocks it opens every conversation with.
type Fingerprint struct {
	CLIVersion string            `json:"cli_version"`
	Headers    map[string]string `json:"headers"`
	System     []types.Block     `json:"-"`
	SystemRaw  json.RawMessage   `json:"system"`
	CapturedAt int64             `json:"captured_at"`
}

// CLIRunner launches the real vendor CLI so it issues one request against
// captureURL, for fingerprint capture. Swapped out in tests.
type CLIRunner func(ctx context.Context, captureURL string) error

// DefaultCLIRunner invokes the real `claude` binary in a minimal
// non-interactive mode, pointed at the local capture server via its
// base-URL override environment variable.
func DefaultCLIRunner(ctx context.Context, captureURL string) error {
	cmd := exec.CommandContext(ctx, "claude", "-p", "hello", "--output-format", "json")
	cmd.Env = append(os.Environ(), "ANTHROPIC_BASE_URL="+captureURL)
	return cmd.Run()
}

// DetectionService owns the one-shot CLI fingerprint capture and its
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
// cacheDir (an XDG-style cache directory; empty disables disk caching).
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
	return filepath.Join(d.cacheDir, fmt.Sprintf("claude-fingerprint-%s.json", cliVersion))
}

// Capture runs the one-shot fingerprint capture for the given CLI version:
// an in-process cache hit or an on-disk cache hit short-circuit the
// subprocess launch; otherwise it starts a local capture server, runs the
// vendor CLI against it, and persists the result.
func (d *DetectionService) Capture(ctx context.Context, cliVersion string) (Fingerprint, error) {
	if v, ok := d.mem.Get(cliVersion); ok {
		fp := v.(Fingerprint)
		d.mu.Lock()
		d.fingerprint = &fp
		d.mu.Unlock()
		return fp, nil
	}

	if fp, ok := d.loadFromDisk(cliVersion); ok {
		d.mem.Set(cliVersion, fp, gocache.NoExpiration)
		d.mu.Lock()
		d.fingerprint = &fp
		d.mu.Unlock()
		return fp, nil
	}

	fp, err := d.captureLive(ctx, cliVersion)
	if err != nil {
		return Fingerprint{}, err
	}

	d.mem.Set(cliVersion, fp, gocache.NoExpiration)
	d.mu.Lock()
	d.fingerprint = &fp
	d.mu.Unlock()
	_ = d.saveToDisk(fp)
	return fp, nil
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
	if len(fp.SystemRaw) > 0 {
		blocks, err := types.BlocksFromAnthropic(fp.SystemRaw)
		if err == nil {
			fp.System = blocks
		}
	}
	return fp, true
}

func (d *DetectionService) saveToDisk(fp Fingerprint) error {
	path := d.cachePath(fp.CLIVersion)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("claude: mkdir fingerprint cache dir: %w", err)
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("claude: encode fingerprint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "fingerprint-*.json.tmp")
	if err != nil {
		return fmt.Errorf("claude: create temp fingerprint file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("claude: write temp fingerprint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("claude: close temp fingerprint file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// captureLive starts a local capture server, runs the vendor CLI against
// it, and records the first request it observes.
func (d *DetectionService) captureLive(ctx context.Context, cliVersion string) (Fingerprint, error) {
	captured := make(chan Fingerprint, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string)
		for k := range r.Header {
			lower := lowerHeader(k)
			if capturedHeaderBlocklist[lower] {
				continue
			}
			headers[lower] = r.Header.Get(k)
		}

		var body struct {
			System json.RawMessage `json:"system"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		fp := Fingerprint{
			CLIVersion: cliVersion,
			Headers:    headers,
			SystemRaw:  body.System,
			CapturedAt: time.Now().Unix(),
		}
		if len(body.System) > 0 {
			if blocks, err := types.BlocksFromAnthropic(body.System); err == nil {
				fp.System = blocks
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`))

		select {
		case captured <- fp:
		default:
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return Fingerprint{}, fmt.Errorf("claude: listen for capture server: %w", err)
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
			return Fingerprint{}, fmt.Errorf("claude: fingerprint capture subprocess: %w", err)
		}
		return Fingerprint{}, fmt.Errorf("claude: fingerprint capture subprocess exited without a request")
	case <-captureCtx.Done():
		return Fingerprint{}, fmt.Errorf("claude: fingerprint capture timed out: %w", captureCtx.Err())
	}
}

// Watch re-captures on an interval if the installed CLI's version has
// changed, supplementing the one-shot startup capture (see SPEC_FULL.md §4).
// Off by default; callers opt in by starting it in its own goroutine.
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

func lowerHeader(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
