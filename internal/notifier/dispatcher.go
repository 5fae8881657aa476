package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"subwatch/internal/difficulty"
	"subwatch/internal/eventbus"
	"subwatch/internal/record"
	logx "subwatch/pkg/logx"
)

type DispatcherOptions struct {
	Window   time.Duration // 10m; only records younger than this are notified
	Delay    time.Duration // minimum spacing between emissions; 0 disables pacing
	Session  string
	Location *time.Location
	Palette  *difficulty.Palette
	Bus      eventbus.Bus
	Now      func() time.Time
}

// Dispatcher turns fresh records into events, at most once per key.
//
// Scans are serialized. A key is marked before its event is handed to the
// sink, so a failing sink may lose a notification but never duplicates one.
// Marked keys stay for the life of the set: a reload may widen the window or
// move the timezone, and an aged-out key must not become eligible again.
type Dispatcher struct {
	mu sync.Mutex

	sink    Sink
	set     *NotifiedSet
	limiter *rate.Limiter
	opts    DispatcherOptions
	log     logx.Logger
	obs     Observer
}

type ScanResult struct {
	Checked int // records with a parsable date inside the window
	Emitted int
	Failed  int
	Skipped int // already notified
}

func NewDispatcher(sink Sink, set *NotifiedSet, opts DispatcherOptions, log logx.Logger, obs Observer) *Dispatcher {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Palette == nil {
		opts.Palette = difficulty.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if set == nil {
		set = NewNotifiedSet()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.Delay > 0 {
		lim = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}
	return &Dispatcher{sink: sink, set: set, limiter: lim, opts: opts, log: log, obs: obs}
}

func (d *Dispatcher) Set() *NotifiedSet { return d.set }

// Tune applies reloaded window and pacing. Zero values keep the current ones.
func (d *Dispatcher) Tune(window, delay time.Duration, loc *time.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if window > 0 {
		d.opts.Window = window
	}
	if delay > 0 && delay != d.opts.Delay {
		d.opts.Delay = delay
		d.limiter.SetLimit(rate.Every(delay))
	}
	if loc != nil {
		d.opts.Location = loc
	}
}

// Scan emits one event per fresh, not yet notified record of snap. It returns
// early only when ctx ends while waiting for the pacing limiter.
func (d *Dispatcher) Scan(ctx context.Context, snap record.Snapshot, ix difficulty.Index) (ScanResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var res ScanResult
	now := d.opts.Now()
	for _, acc := range snap {
		for _, r := range acc.Records {
			posted, ok := r.Time(d.opts.Location)
			if !ok || now.Sub(posted) >= d.opts.Window {
				continue
			}
			res.Checked++
			key := Key{Account: acc.AccountID, Record: r.Key()}
			if d.set.Has(key) {
				res.Skipped++
				continue
			}
			if err := d.limiter.Wait(ctx); err != nil {
				return res, err
			}
			d.set.Mark(key)

			label := ix.Label(r.ProblemNumber)
			ev := Event{
				Account:     acc.AccountID,
				AccountName: acc.DisplayName,
				Problem:     r.ProblemNumber,
				ProblemName: r.ProblemName,
				PostDate:    r.PostDate,
				Posted:      posted,
				Difficulty:  label,
				Color:       d.opts.Palette.Color(label),
				Session:     d.opts.Session,
			}
			err := d.sink.Deliver(ctx, ev)
			if d.obs != nil {
				d.obs.ObserveNotify("emit", err)
			}
			if err != nil {
				res.Failed++
				d.log.Warn("notification sink failed",
					logx.String("account", ev.Account),
					logx.String("problem", ev.Problem),
					logx.Err(err))
				continue
			}
			res.Emitted++
			if d.opts.Bus != nil {
				d.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeNotified, Data: ev})
			}
		}
	}
	return res, nil
}
