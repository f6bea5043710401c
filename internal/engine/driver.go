package engine

import (
	"log"
	"sync"
	"time"
)

const tickInterval = 5 * time.Millisecond

// Driver ticks an Engine's pullOne primitive roughly every 5 ms for as
// long as decoding is requested (spec §4.4), recovering from panics in
// pullOne so one bad frame doesn't take the whole connection down.
type Driver struct {
	engine *Engine
	stop   chan struct{}
	done   sync.WaitGroup
}

// NewDriver builds a stopped driver for engine.
func NewDriver(e *Engine) *Driver {
	return &Driver{engine: e}
}

// Start launches the tick goroutine. Calling Start twice without an
// intervening Stop is a no-op.
func (d *Driver) Start() {
	if d.stop != nil {
		return
	}
	d.stop = make(chan struct{})
	d.done.Add(1)
	go d.run()
}

func (d *Driver) run() {
	defer d.done.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tickSafely()
		}
	}
}

func (d *Driver) tickSafely() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: pullOne panicked: %v", r)
		}
	}()
	if err := d.engine.PullOne(); err != nil {
		log.Printf("engine: pullOne error: %v", err)
	}
}

// Stop halts the tick goroutine and waits for the in-flight tick, if any,
// to finish before returning.
func (d *Driver) Stop() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	d.done.Wait()
	d.stop = nil
}
