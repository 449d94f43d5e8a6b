// Package inbox turns JSON files dropped into a directory into create
// operations.
//
// The inbox:
//  1. Processes every *.json file already in the directory on Start
//  2. Watches the directory for new or rewritten *.json files
//  3. Waits until a file has been quiet for the debounce interval
//  4. Renames it to *.done or *.failed once handled
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler executes one import request and returns the created id.
type Handler func(ctx context.Context, req Request) (string, error)

// Config holds configuration for the inbox.
type Config struct {
	// Dir is the directory to watch. It is created if missing.
	Dir string

	// Debounce is how long a file must be quiet before it is processed.
	Debounce time.Duration

	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Stats counts handled files.
type Stats struct {
	Processed int64
	Failed    int64
}

// Inbox watches a directory for import files.
type Inbox struct {
	dir     string
	cfg     Config
	handler Handler
	log     logrus.FieldLogger

	watcher *fsnotify.Watcher
	queue   map[string]time.Time
	queueMu sync.Mutex

	processed atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an inbox. Call Start to begin watching.
func New(cfg Config, handler Handler) (*Inbox, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox dir cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("inbox handler cannot be nil")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve inbox dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		dir:     dir,
		cfg:     cfg,
		handler: handler,
		log:     cfg.Logger.WithFields(logrus.Fields{"component": "inbox", "dir": dir}),
		watcher: watcher,
		queue:   make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start queues the files already present and begins watching.
func (in *Inbox) Start() error {
	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.dir, err)
	}

	existing, err := filepath.Glob(filepath.Join(in.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", in.dir, err)
	}
	sort.Strings(existing)
	past := in.cfg.Now().Add(-in.cfg.Debounce)
	for _, path := range existing {
		in.enqueue(path, past)
	}

	in.wg.Add(2)
	go in.watchEvents()
	go in.processQueue()
	in.log.Info("inbox watching")
	return nil
}

// Stop shuts the inbox down and waits for in-flight imports.
func (in *Inbox) Stop() error {
	in.cancel()
	err := in.watcher.Close()
	in.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Stats reports how many files were handled.
func (in *Inbox) Stats() Stats {
	return Stats{Processed: in.processed.Load(), Failed: in.failed.Load()}
}

func (in *Inbox) watchEvents() {
	defer in.wg.Done()

	for {
		select {
		case <-in.ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != ".json" || filepath.Dir(event.Name) != in.dir {
				continue
			}
			in.enqueue(event.Name, in.cfg.Now())

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.log.WithError(err).Warn("watcher error")
		}
	}
}

func (in *Inbox) enqueue(path string, at time.Time) {
	in.queueMu.Lock()
	defer in.queueMu.Unlock()
	in.queue[path] = at
}

func (in *Inbox) processQueue() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-in.ctx.Done():
			return
		case <-ticker.C:
			for _, path := range in.ready() {
				in.process(path)
			}
		}
	}
}

// ready pops the files that have been quiet long enough, oldest path first.
func (in *Inbox) ready() []string {
	in.queueMu.Lock()
	defer in.queueMu.Unlock()

	now := in.cfg.Now()
	var paths []string
	for path, at := range in.queue {
		if now.Sub(at) >= in.cfg.Debounce {
			paths = append(paths, path)
			delete(in.queue, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func (in *Inbox) process(path string) {
	log := in.log.WithField("file", filepath.Base(path))

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		in.finish(log, path, fmt.Errorf("failed to read: %w", err))
		return
	}

	req, err := Parse(data, in.cfg.Now())
	if err != nil {
		in.finish(log, path, err)
		return
	}

	id, err := in.handler(in.ctx, req)
	if err != nil {
		in.finish(log, path, err)
		return
	}
	log.WithFields(logrus.Fields{"kind": req.Kind, "id": id}).Info("imported")
	in.finish(log, path, nil)
}

func (in *Inbox) finish(log logrus.FieldLogger, path string, err error) {
	suffix := ".done"
	if err != nil {
		suffix = ".failed"
		in.failed.Add(1)
		log.WithError(err).Warn("import failed")
	} else {
		in.processed.Add(1)
	}
	if rerr := os.Rename(path, path+suffix); rerr != nil {
		log.WithError(rerr).Error("failed to rename import file")
	}
}
