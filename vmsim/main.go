// Command vmsim runs workloads on the virtual-memory core.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmcore/vmsim/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
