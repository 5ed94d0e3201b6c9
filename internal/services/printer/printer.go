package printer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"pg_listener/internal/domain/notify"
)

var separator = strings.Repeat("-", 50)

// Printer renders notifications for a developer watching the console.
type Printer struct {
	w io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Banner(channels []string) {
	fmt.Fprintln(p.w, "Listening for notifications on channels:")
	for _, ch := range channels {
		fmt.Fprintf(p.w, "- %s\n", ch)
	}
	fmt.Fprintln(p.w, "\nWaiting for notifications... (Press Ctrl+C to exit)")
}

func (p *Printer) Handle(_ context.Context, n notify.Notification) {
	var b strings.Builder

	b.WriteString("\n📨 Received notification:\n")
	fmt.Fprintf(&b, "  Channel: %s\n", n.Channel)
	fmt.Fprintf(&b, "  Payload: %s\n", n.Payload)

	if n.Decoded != nil {
		b.WriteString("  Parsed data:\n")
		keys := make([]string, 0, len(n.Decoded))
		for k := range n.Decoded {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %v\n", k, n.Decoded[k])
		}
	} else {
		b.WriteString("  (Payload is not valid JSON)\n")
	}
	b.WriteString(separator)
	b.WriteByte('\n')

	io.WriteString(p.w, b.String())
}

// Heartbeat marks an idle timeout with a single dot.
func (p *Printer) Heartbeat() {
	io.WriteString(p.w, ".")
}
