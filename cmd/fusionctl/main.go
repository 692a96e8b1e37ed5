// fusionctl boots the kernel core in-process for development and
// inspection: it feeds a synthetic memory map to the initializer, serves the
// introspection endpoints and runs the end-to-end demo scenarios.
package main

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/cmd/fusionctl/cmd"
)

func main() {
	cmd.Execute()
}
