package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/meijies/query-compile-prototype/internal/timeslice"
)

func formatTotal(t timeslice.Total) string {
	return fmt.Sprintf("%32s flags=%-8s count=%8d sum=%14s max=%14s avg=%14s",
		t.Name, t.Flags, t.Count, t.Sum, t.Max, t.Mean())
}

// report prints a trace written with -tsfile.
func report(args []string) error {
	fs := flag.NewFlagSet("exprjit report", flag.ExitOnError)
	filename := fs.String("filename", "", "timeslice file to read")
	sums := fs.Bool("sums", false, "print per-phase totals instead of every record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *filename == "" {
		fs.Usage()
		return fmt.Errorf("missing -filename")
	}

	f, err := os.Open(*filename)
	if err != nil {
		return fmt.Errorf("failed to open timeslice file: %w", err)
	}
	defer f.Close()

	if *sums {
		totals, err := timeslice.Summarize(f)
		if err != nil {
			return fmt.Errorf("failed to read timeslice file: %w", err)
		}
		for _, t := range totals {
			fmt.Println(formatTotal(t))
		}
		return nil
	}
	return timeslice.ReadAllRecords(f, func(name string, flags timeslice.Flags, d time.Duration) error {
		fmt.Printf("%s %s %s\n", name, flags, d)
		return nil
	})
}
