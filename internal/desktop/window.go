package desktop

import (
	"context"
	"fmt"
	"sync"

	"github.com/openprism/desktop/internal/navguard"
)

// Window is the surface the UI renders into.
type Window interface {
	Load(ctx context.Context, url string) error
}

// BrowserWindow renders the app in the system browser. Loads are checked
// against the navigation guard first.
type BrowserWindow struct {
	Guard  *navguard.Guard
	Opener navguard.Opener
}

func (w *BrowserWindow) Load(ctx context.Context, url string) error {
	if w.Guard != nil && !w.Guard.Allowed(url) {
		return fmt.Errorf("window refused %s: origin not allowed", url)
	}
	if w.Opener == nil {
		return nil
	}
	return w.Opener.Open(ctx, url)
}

// HeadlessWindow records the loaded URL without displaying anything.
type HeadlessWindow struct {
	mu  sync.Mutex
	url string
}

func (w *HeadlessWindow) Load(ctx context.Context, url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.url = url
	return nil
}

// URL returns the last loaded URL.
func (w *HeadlessWindow) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}
