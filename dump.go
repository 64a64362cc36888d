package nutritionagent

import (
	"fmt"
	"os"
	"runtime"

	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// Dump prints values with their call site to stderr. Used behind DEBUG_DUMP.
func Dump(v ...any) {
	_, file, line, _ := runtime.Caller(1)
	fmt.Fprintf(os.Stderr, "%s:%d:\n", file, line)
	dumpConfig.Fdump(os.Stderr, v...)
}
