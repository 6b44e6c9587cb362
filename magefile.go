//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

// Build compiles every executable into ./bin
func Build() error {
	mg.Deps(BuildDecoder, BuildMeasureWorkers, BuildWaveplot)
	fmt.Println("Compilation finished")
	return nil
}

func BuildDecoder() error {
	fmt.Println("Building wavedecoder executable...")
	return goBuild("./bin/wavedecoder", "./wavedecoder", true)
}

func BuildMeasureWorkers() error {
	fmt.Println("Building measureWorkers executable...")
	return goBuild("./bin/measureWorkers", "./measureWorkers", true)
}

// The plotting tool does not link HDF5
func BuildWaveplot() error {
	fmt.Println("Building waveplot executable...")
	return goBuild("./bin/waveplot", "./waveplot", false)
}

// Test runs the unit tests of the packages that do not need libhdf5
func Test() error {
	cmd := exec.Command("go", "test", "./pkg", "./pkg/logging", "./waveplot")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func goBuild(output string, pkg string, cgo bool) error {
	cmd := exec.Command("go", "build", "-o", output, pkg)
	cmd.Env = os.Environ()
	if cgo {
		cmd.Env = append(cmd.Env,
			"CGO_ENABLED=1",
			fmt.Sprintf("CGO_LDFLAGS=%s", os.Getenv("CGO_LDFLAGS")),
			fmt.Sprintf("CGO_CFLAGS=%s", os.Getenv("CGO_CFLAGS")))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
