package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	realtime "github.com/holyhome/realtime-go"
)

// printer writes events to out, one per line.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch format {
	case "", "text":
		return &printer{out: out}, nil
	case "json":
		return &printer{out: out, asJSON: true}, nil
	}
	return nil, fmt.Errorf("unknown output format: %s", format)
}

func (p *printer) handle(ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asJSON {
		_, err := fmt.Fprintf(p.out, "%s\n", ev.Raw)
		return err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	data := string(ev.Data)
	if data == "" {
		data = "-"
	}
	_, err := fmt.Fprintf(p.out, "%s %-26s %s %s\n", ts.Format(time.RFC3339), ev.Type, orDash(ev.ID), data)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
