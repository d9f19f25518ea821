package render

import (
	"fmt"
	"strings"

	"github.com/joeycumines/liveeval/internal/store"
)

// StatusLine summarizes a run, e.g. "run 3: 12 payloads, 1 runtime error".
func StatusLine(st store.Status) string {
	var state string
	switch {
	case st.BuildFailed:
		state = "build failed"
	case !st.Complete:
		state = "running"
	case st.OK():
		state = "ok"
	default:
		state = "completed with errors"
	}
	parts := []string{plural(st.Payloads, "payload")}
	if st.Evicted > 0 {
		parts = append(parts, fmt.Sprintf("%d evicted", st.Evicted))
	}
	if st.BuildErrors > 0 {
		parts = append(parts, plural(st.BuildErrors, "build error"))
	}
	if st.BuildWarnings > 0 {
		parts = append(parts, plural(st.BuildWarnings, "warning"))
	}
	if st.RuntimeErrors > 0 {
		parts = append(parts, plural(st.RuntimeErrors, "runtime error"))
	}
	return fmt.Sprintf("run %d %s: %s", st.Token, state, strings.Join(parts, ", "))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
