package stimulate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/engine"
	"github.com/ColonelBlimp/stimcore/internal/protocol"
)

// Snapshotter provides the latest engine view.
type Snapshotter interface {
	Snapshot() *engine.Snapshot
}

// Monitor writes one status line per new snapshot until ctx is done.
func Monitor(ctx context.Context, w io.Writer, src Snapshotter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := src.Snapshot()
			if snap == nil || !snap.At.After(last) {
				continue
			}
			last = snap.At
			fmt.Fprintln(w, FormatSnapshot(snap))
		}
	}
}

// FormatSnapshot renders the values an operator display shows.
func FormatSnapshot(s *engine.Snapshot) string {
	var b strings.Builder
	st := s.Session
	fmt.Fprintf(&b, "%-7s %s %5.1fs gain %.3f", st.State, st.Mode, st.Elapsed.Seconds(), st.Gain)
	if st.Remaining > 0 {
		fmt.Fprintf(&b, " left %s", st.Remaining.Round(time.Second))
	}
	if s.Summary.HasData() {
		fmt.Fprintf(&b, " | p1 %+.3f p99 %+.3f mean %+.3f mA", s.Summary.P1MA, s.Summary.P99MA, s.Summary.MeanMA)
	} else {
		b.WriteString(" | no data")
	}
	if s.ToneValid {
		fmt.Fprintf(&b, " tone %.3f mA", s.ToneMA)
	}
	if flags := formatFlags(s.Flags); flags != "" {
		fmt.Fprintf(&b, " [%s]", flags)
	}
	fmt.Fprintf(&b, " %q", st.Waveform)
	return b.String()
}

func formatFlags(f uint8) string {
	var names []string
	if f&protocol.FlagUnderrun != 0 {
		names = append(names, "underrun")
	}
	if f&protocol.FlagElectrodeFault != 0 {
		names = append(names, "electrode")
	}
	if f&protocol.FlagStorage != 0 {
		names = append(names, "storage")
	}
	return strings.Join(names, ",")
}
