// Package creds defines the credential provider contract and a file-backed
// implementation.
//
// The session token lives in a plain file inside the storage directory so
// any process of the host application shares it. The file provider watches
// for changes with fsnotify and notifies registered listeners with the new
// token (possibly empty, when the credential was cleared).
package creds

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TokenFileName is the token file's name within the storage directory.
const TokenFileName = "session-token"

// Provider supplies the current auth token and change notifications.
type Provider interface {
	// Token returns the current token, or "" when none is stored.
	Token() string

	// OnChange registers a listener invoked with the new token whenever
	// the stored credential changes.
	OnChange(fn func(token string))
}

// FileProvider reads the token from a file and watches it for changes.
type FileProvider struct {
	path   string
	logger *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	listeners []func(string)
	lastToken string
	running   bool
}

// NewFileProvider creates a provider for the token file in dir.
// If logger is nil, a default stderr logger is used.
func NewFileProvider(dir string, logger *log.Logger) *FileProvider {
	if logger == nil {
		logger = log.New(os.Stderr, "[creds] ", log.LstdFlags)
	}
	return &FileProvider{
		path:   filepath.Join(dir, TokenFileName),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Token reads the token file. Any read failure (including a missing file)
// reads as no credential.
func (p *FileProvider) Token() string {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// OnChange registers a change listener.
func (p *FileProvider) OnChange(fn func(token string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// SetToken writes the token file. Mainly for the login/logout commands and
// tests; an empty token clears the credential.
func (p *FileProvider) SetToken(token string) error {
	if token == "" {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear token file: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(p.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Watch starts watching the token file's directory and firing listeners on
// change. Must be paired with Close.
func (p *FileProvider) Watch() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("provider already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch token directory: %w", err)
	}

	p.watcher = watcher
	p.lastToken = p.Token()
	p.running = true
	p.wg.Add(1)
	go p.processEvents()

	return nil
}

// Close stops watching.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.done)
	if err := p.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	p.wg.Wait()
	return nil
}

// processEvents fires listeners when the token file's content actually
// changes, not on every filesystem event.
func (p *FileProvider) processEvents() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Name != p.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			p.notifyIfChanged()

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Printf("watcher error: %v", err)
		}
	}
}

func (p *FileProvider) notifyIfChanged() {
	token := p.Token()

	p.mu.Lock()
	if token == p.lastToken {
		p.mu.Unlock()
		return
	}
	p.lastToken = token
	listeners := make([]func(string), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	p.logger.Printf("credential changed")
	for _, fn := range listeners {
		fn(token)
	}
}
