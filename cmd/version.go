package cmd

import (
	"fmt"
	"runtime"
)

// RunVersion prints the application version and the toolchain it was built with.
func RunVersion(appName, appVersion string) error {
	fmt.Printf("%s %s (%s, %s/%s)\n", appName, appVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
