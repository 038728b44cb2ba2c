package dap

import "os"

// stderr is the adapter subprocess's inherited error stream and the
// destination for this package's own diagnostics, matching the
// plain-stderr logging convention carried throughout the gateway.
var stderr = os.Stderr
