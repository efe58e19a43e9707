// Package daemon wires the core packages into a long-running process: an
// event source (shimref for "self" mode, a JSON stdin feed for "remote"
// mode), the dispatcher, and a reporter.
package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/pathauditor/config"
	"github.com/google/pathauditor/internal/shimref"
	"github.com/google/pathauditor/pkg/dispatcher"
	"github.com/google/pathauditor/pkg/fileevent"
	"github.com/google/pathauditor/pkg/procenrich"
	"github.com/google/pathauditor/pkg/procview"
	"github.com/google/pathauditor/pkg/report"
)

// Daemon is the long-running process that turns a stream of FileEvents into
// classification reports.
type Daemon struct {
	cfg       *config.AuditorConfig
	view      procview.ProcessView
	reporter  *report.Reporter
	procCache *procenrich.Cache

	watcher *shimref.Watcher // only set in "self" mode

	events   chan *fileevent.FileEvent
	errs     chan error
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a Daemon from cfg. It does not start watching until Start is
// called.
func New(cfg *config.AuditorConfig) (*Daemon, error) {
	procCache, err := procenrich.NewCache(cfg.ProcessCacheSize)
	if err != nil {
		return nil, err
	}

	var view procview.ProcessView
	switch cfg.Mode {
	case "self":
		view = procview.SameProcess{}
	case "remote":
		view = procview.NewRemoteProcess(cfg.RemotePid, cfg.RemoteCwd, "", cfg.RemoteFallback)
	default:
		return nil, fmt.Errorf("daemon: unknown mode %q", cfg.Mode)
	}

	format := report.FormatText
	switch cfg.LogFormat {
	case "json":
		format = report.FormatJSON
	case "cef":
		format = report.FormatCEF
	}

	var dest io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("daemon: opening log file %q: %w", cfg.LogFile, err)
		}
		dest = f
	}

	return &Daemon{
		cfg:       cfg,
		view:      view,
		reporter:  report.NewWithFormatTo(format, dest),
		procCache: procCache,
		events:    make(chan *fileevent.FileEvent, 256),
		errs:      make(chan error, 1),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins feeding events (from shimref in "self" mode, from stdin in
// "remote" mode) into the classification loop. It returns once the event
// source is up; classification happens on a background goroutine.
func (d *Daemon) Start() error {
	switch d.cfg.Mode {
	case "self":
		w, err := shimref.New(d.cfg.WatchPath)
		if err != nil {
			return err
		}
		d.watcher = w
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.Events(d.events, d.errs)
		}()
	case "remote":
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.readStdinEvents(os.Stdin)
		}()
	}

	d.wg.Add(1)
	go d.startEventProcessor()

	return nil
}

// Stop shuts the daemon down: it closes the event source and waits for the
// source and processing goroutines to return. The processing loop returns
// as soon as Stop is called; events still queued are not processed.
func (d *Daemon) Stop() {
	close(d.stopChan)
	if d.watcher != nil {
		d.watcher.Close()
	}
	d.wg.Wait()
}

func (d *Daemon) readStdinEvents(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev fileevent.FileEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			d.errs <- fmt.Errorf("daemon: decoding stdin event: %w", err)
			continue
		}
		d.events <- &ev
	}
}

func (d *Daemon) startEventProcessor() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopChan:
			return
		case err := <-d.errs:
			d.reporter.CannotAudit(err)
		case ev := <-d.events:
			d.handleEvent(ev)
		}
	}
}

func (d *Daemon) handleEvent(ev *fileevent.FileEvent) {
	controlled, err := dispatcher.FileEventIsUserControlled(d.view, ev)
	if err != nil {
		d.reporter.CannotAudit(err)
		return
	}
	if !controlled {
		return
	}

	caller := report.CallerInfo{}
	if d.cfg.Mode == "remote" {
		info := d.procCache.Lookup(int32(d.cfg.RemotePid))
		caller.Cmdline = info.Cmdline
		caller.UID = info.UID
	}
	d.reporter.InsecureAccess(ev.Syscall.String(), ev, caller)
}
