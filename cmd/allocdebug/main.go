// Command allocdebug runs a fixed allocation script against an
// alloc.Allocator and prints its diagnostics, reproducing the
// walkthrough that exercises both SmallPool and CoalescingPool, then
// deliberately leaks two blocks so Destroy's leak scan has something
// to report.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/colega/useralloc/alloc"
)

var rootCmd = &cobra.Command{
	Use:     "allocdebug",
	Short:   "Run a scripted allocation workload and print allocator diagnostics",
	Version: "0.1.0",
	RunE:    runDebugScript,
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDebugScript(_ *cobra.Command, _ []string) error {
	// Destroy's leak scan reports through the package logger, which
	// discards by default; send its reports to stdout.
	alloc.SetLogger(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	var a alloc.Allocator
	if err := a.Init(); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	const (
		sizeofInt    = 4
		sizeofDouble = 8
		sizeofLong   = 8
	)

	pi, err := a.Alloc(sizeofInt)
	if err != nil {
		return fmt.Errorf("alloc pi: %w", err)
	}
	pd, err := a.Alloc(sizeofDouble)
	if err != nil {
		return fmt.Errorf("alloc pd: %w", err)
	}
	pa, err := a.Alloc(10 * sizeofInt)
	if err != nil {
		return fmt.Errorf("alloc pa: %w", err)
	}

	var pl [10]unsafe.Pointer
	for i := range pl {
		pl[i], err = a.Alloc(100 * sizeofInt)
		if err != nil {
			return fmt.Errorf("alloc pl[%d]: %w", i, err)
		}
	}

	bpi, err := a.Alloc(1000 * sizeofInt)
	if err != nil {
		return fmt.Errorf("alloc bpi: %w", err)
	}
	bpd, err := a.Alloc(1000 * sizeofDouble)
	if err != nil {
		return fmt.Errorf("alloc bpd: %w", err)
	}
	bpl, err := a.Alloc(1000 * sizeofLong)
	if err != nil {
		return fmt.Errorf("alloc bpl: %w", err)
	}
	bpa, err := a.Alloc(1000000 * sizeofInt)
	if err != nil {
		return fmt.Errorf("alloc bpa: %w", err)
	}

	fmt.Println("Before user freeing:")
	fmt.Println("Overall memory statistics:")
	if err := a.DumpStat(os.Stdout); err != nil {
		return err
	}
	fmt.Println("\nAllocated memory statistics:")
	if err := a.DumpBlocks(os.Stdout); err != nil {
		return err
	}
	fmt.Println()

	if err := a.Free(pa); err != nil {
		return fmt.Errorf("free pa: %w", err)
	}
	if err := a.Free(pd); err != nil {
		return fmt.Errorf("free pd: %w", err)
	}
	if err := a.Free(pi); err != nil {
		return fmt.Errorf("free pi: %w", err)
	}
	for i, p := range pl {
		if err := a.Free(p); err != nil {
			return fmt.Errorf("free pl[%d]: %w", i, err)
		}
	}

	if err := a.Free(bpa); err != nil {
		return fmt.Errorf("free bpa: %w", err)
	}
	if err := a.Free(bpl); err != nil {
		return fmt.Errorf("free bpl: %w", err)
	}
	if err := a.Free(bpi); err != nil {
		return fmt.Errorf("free bpi: %w", err)
	}
	if err := a.Free(bpd); err != nil {
		return fmt.Errorf("free bpd: %w", err)
	}

	fmt.Println("After user freeing:")
	fmt.Println("Overall memory statistics:")
	if err := a.DumpStat(os.Stdout); err != nil {
		return err
	}
	fmt.Println("\nAllocated memory statistics:")
	if err := a.DumpBlocks(os.Stdout); err != nil {
		return err
	}
	fmt.Println()

	fmt.Println("Checking detecting leaks (should report 2 leaks):")
	if _, err := a.Alloc(128); err != nil {
		return fmt.Errorf("alloc 128: %w", err)
	}
	if _, err := a.Alloc(1024); err != nil {
		return fmt.Errorf("alloc 1024: %w", err)
	}

	// Intentionally not freeing the two allocations above: Destroy's
	// debug leak scan below is what reports them.
	return a.Destroy()
}

func main() {
	execute()
}
