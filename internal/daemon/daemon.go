// Package daemon runs the long-lived sync process: it keeps every
// domain's controller live against the remote hub and watches the local
// database for writes made by other habitd processes.
//
// CLI commands run in their own short-lived processes and write straight
// to the store. The daemon picks those writes up through fsnotify,
// reloads the affected domains, and schedules pushes on their behalf.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"habitd/internal/goals"
	"habitd/internal/protocol"
	"habitd/internal/study"
	"habitd/internal/syncctl"
)

// domain pairs a reloadable service with its controller.
type domain struct {
	name string
	// reload re-reads local state, reporting whether it changed.
	reload func() bool
	ctl    *syncctl.Controller
}

// Daemon watches the store and drives domain reloads.
type Daemon struct {
	storePath string
	domains   []domain
	logger    *log.Logger
	debounce  time.Duration

	watcher *fsnotify.Watcher
	pending chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// Options configures New.
type Options struct {
	// StorePath is the local database file to watch.
	StorePath string

	// Protocol, Goals and Study are the running services; nil entries
	// are skipped.
	Protocol *protocol.Service
	Goals    *goals.Service
	Study    *study.Service

	// DebounceInterval batches rapid file events. Defaults to 250ms;
	// sqlite WAL activity generates several events per logical write.
	DebounceInterval time.Duration

	Logger *log.Logger
}

// New creates a daemon. Start begins watching.
func New(opts Options) (*Daemon, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 250 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	d := &Daemon{
		storePath: opts.StorePath,
		logger:    opts.Logger,
		debounce:  opts.DebounceInterval,
		watcher:   watcher,
		pending:   make(chan struct{}, 1),
	}
	if opts.Protocol != nil {
		d.domains = append(d.domains, domain{"protocol", opts.Protocol.Reload, opts.Protocol.Controller()})
	}
	if opts.Goals != nil {
		d.domains = append(d.domains, domain{"goals", opts.Goals.Reload, opts.Goals.Controller()})
	}
	if opts.Study != nil {
		d.domains = append(d.domains, domain{"study", opts.Study.Reload, opts.Study.Controller()})
	}
	return d, nil
}

// Start watches the store directory and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	dir := filepath.Dir(d.storePath)
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	d.logger.Printf("Watching %s", dir)

	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(2)
	go d.watchFileEvents(ctx)
	go d.processChanges(ctx)

	<-ctx.Done()
	return d.stop()
}

// Stop shuts the daemon down from outside Start.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Daemon) stop() error {
	d.logger.Println("Stopping daemon")
	if err := d.watcher.Close(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	return nil
}

// watchFileEvents queues a reload whenever the database file changes.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()

	base := filepath.Base(d.storePath)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			// WAL and journal files share the db file's prefix; a write
			// to any of them can mean new data.
			if !matchesStore(filepath.Base(event.Name), base) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case d.pending <- struct{}{}:
			default:
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

func matchesStore(name, base string) bool {
	return name == base || name == base+"-wal" || name == base+"-shm" || name == base+"-journal"
}

// processChanges drains the pending flag with debouncing and reloads
// every domain, scheduling a push for those that actually changed.
func (d *Daemon) processChanges(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.pending:
		}

		// Let the burst of file events settle.
		timer := time.NewTimer(d.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		// Drop anything queued during the debounce window; the reload
		// below reads the latest state anyway.
		select {
		case <-d.pending:
		default:
		}

		d.reloadAll()
	}
}

func (d *Daemon) reloadAll() {
	for _, dom := range d.domains {
		if !dom.reload() {
			continue
		}
		d.logger.Printf("Reloaded %s state from store", dom.name)
		// Writes from CLI processes are user-driven interactions; the
		// daemon pushes them on the CLI's behalf.
		dom.ctl.MarkInteraction()
		dom.ctl.NotifyChange()
	}
}
