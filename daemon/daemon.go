// Package daemon implements watch mode: a cron-scheduled repetition of
// digest.Read, plus the last-read health state the status server reports.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/hysreader/hys/digest"
)

// Daemon repeatedly runs a read on a cron schedule until stopped.
type Daemon struct {
	engine  *digest.Engine
	request digest.Request
	cron    *cron.Cron
	logger  *slog.Logger

	lastErr atomic.Value // holds error, nil-safe via errBox
}

type errBox struct{ err error }

// New builds a Daemon bound to one engine and one read request, scheduled
// by the given cron schedule: a standard 5-field expression (minute
// resolution) or a descriptor such as "@every 24h".
func New(engine *digest.Engine, req digest.Request, schedule string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		engine:  engine,
		request: req,
		logger:  logger,
	}
	d.lastErr.Store(errBox{err: errors.New("daemon: no read has completed yet")})

	c := cron.New()
	if _, err := c.AddFunc(schedule, d.runOnce); err != nil {
		return nil, fmt.Errorf("daemon: invalid schedule %q: %w", schedule, err)
	}
	d.cron = c
	return d, nil
}

// Start runs the scheduler in the background and performs one immediate
// read before the first scheduled tick, matching the "read on startup,
// then on interval" expectation of watch mode.
func (d *Daemon) Start() {
	d.runOnce()
	d.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight read to finish.
func (d *Daemon) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

func (d *Daemon) runOnce() {
	_, err := d.engine.Read(context.Background(), d.request)
	if err != nil {
		d.logger.Error("scheduled read failed", "error", err)
	}
	d.lastErr.Store(errBox{err: err})
}

// Health reports the outcome of the most recent read, for the status
// server's /healthz handler. Before the first read completes it reports
// an error.
func (d *Daemon) Health() error {
	return d.lastErr.Load().(errBox).err
}
