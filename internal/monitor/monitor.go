// Package monitor prints the admission registry in a human readable table.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"wsproxy/internal/admission"
)

// DefaultInterval is the refresh period of Run.
const DefaultInterval = 10 * time.Second

// Print writes one table of entries to w.
func Print(w io.Writer, entries []admission.Entry) error {
	var b strings.Builder
	b.WriteString("\n📊 Active IP Connections:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  %-15s | %d conn(s) | last seen: %s\n", e.IP, e.Count, e.LastSeen.Local().Format(time.DateTime))
	}
	b.WriteString(strings.Repeat("-", 40))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Run prints src immediately and then every interval until ctx is done.
// A failed snapshot is reported on w and does not stop the loop. Run
// returns nil when ctx ends and the write error if w fails.
func Run(ctx context.Context, src admission.Source, interval time.Duration, w io.Writer) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		entries, err := src.Entries(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if _, werr := fmt.Fprintf(w, "\nsnapshot unavailable: %v\n", err); werr != nil {
				return werr
			}
		} else if err := Print(w, entries); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
