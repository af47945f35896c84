package cli

import (
	"flag"
	"fmt"
	"runtime"
)

// buildVersion is stamped via -ldflags at release time.
var buildVersion = "dev"

func cmdVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Printf("openclaw %s (%s/%s)\n", buildVersion, runtime.GOOS, runtime.GOARCH)
	return nil
}
