package browser

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// Window is the navigation capability used to show a portal's authorize page.
//
// Open shows the page in a new window (popup mode) and leaves the current
// process waiting for the callback. Navigate hands the current context over to
// the page (redirect mode); completion happens later, from the callback URL.
// Close dismisses a window previously opened with Open.
type Window interface {
	Open(ctx context.Context, url string) error
	Navigate(ctx context.Context, url string) error
	Close() error
}

// launcher starts the platform browser command. Tests replace it.
var launcher = func(cmd *exec.Cmd) error {
	return cmd.Start()
}

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// The browser keeps running after we return.
	if err := launcher(cmd); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// System is the Window backed by the user's default browser. When the
// browser cannot be launched the URL is printed to Out so the user can open
// it by hand.
type System struct {
	Out io.Writer
}

// Open opens url in the default browser.
func (s *System) Open(_ context.Context, url string) error {
	if err := OpenBrowser(url); err != nil {
		if s.Out == nil {
			return err
		}
		fmt.Fprintf(s.Out, "Open this URL in your browser to sign in:\n\n  %s\n\n", url)
	}
	return nil
}

// Navigate prints url for the user and opens it. The process does not wait.
func (s *System) Navigate(ctx context.Context, url string) error {
	if s.Out != nil {
		fmt.Fprintf(s.Out, "Continue sign-in in your browser:\n\n  %s\n\nThen run 'gisauth login --complete <callback-url>'.\n", url)
	}
	if err := OpenBrowser(url); err != nil && s.Out == nil {
		return err
	}
	return nil
}

// Close is a no-op: the callback page closes its own tab.
func (s *System) Close() error {
	return nil
}

// Recorder is an in-memory Window for tests. OnOpen and OnNavigate, when set,
// run synchronously with the requested URL, which lets a test play the part
// of the user at the authorize page.
type Recorder struct {
	OnOpen     func(url string)
	OnNavigate func(url string)
	OpenErr    error

	mu        sync.Mutex
	opened    []string
	navigated []string
	closed    int
}

// Open records url.
func (r *Recorder) Open(_ context.Context, url string) error {
	if r.OpenErr != nil {
		return r.OpenErr
	}
	r.mu.Lock()
	r.opened = append(r.opened, url)
	r.mu.Unlock()
	if r.OnOpen != nil {
		r.OnOpen(url)
	}
	return nil
}

// Navigate records url.
func (r *Recorder) Navigate(_ context.Context, url string) error {
	r.mu.Lock()
	r.navigated = append(r.navigated, url)
	r.mu.Unlock()
	if r.OnNavigate != nil {
		r.OnNavigate(url)
	}
	return nil
}

// Close counts the call.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

// Opened returns the URLs passed to Open.
func (r *Recorder) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.opened...)
}

// Navigated returns the URLs passed to Navigate.
func (r *Recorder) Navigated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.navigated...)
}

// Closed returns how many times Close was called.
func (r *Recorder) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
