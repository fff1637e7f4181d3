package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// L is the kernel-wide logger. k_log output and all subsystem tracing
// flow through it.
var L hclog.Logger

func init() {
	L = hclog.New(&hclog.LoggerOptions{Name: "kern"})
	L.SetLevel(hclog.Info)

	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}
