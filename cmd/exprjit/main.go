package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/meijies/query-compile-prototype/internal/codegen"
	"github.com/meijies/query-compile-prototype/internal/expr"
	"github.com/meijies/query-compile-prototype/internal/jit"
	"github.com/meijies/query-compile-prototype/internal/predicate"
	"github.com/meijies/query-compile-prototype/internal/timeslice"
)

var tsCheck = timeslice.RegisterKind("exprjit::check", timeslice.FlagExecute)

// settings collects repeated -set name=value flags.
type settings []string

func (s *settings) String() string { return strings.Join(*s, ",") }

func (s *settings) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	*s = append(*s, v)
	return nil
}

// defaultExpr is (a + b) / c < d with c and d passed as scalars.
func defaultExpr() (expr.Node, []int) {
	a := &expr.Column{Index: 0, Name: "a"}
	b := &expr.Column{Index: 1, Name: "b"}
	c := &expr.Column{Index: 2, Name: "c"}
	d := &expr.Column{Index: 3, Name: "d"}
	return expr.Lt(expr.Div(expr.Add(a, b), c), d), []int{2, 3}
}

func parseColumns(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("scalar column %q: %w", part, err)
		}
		out = append(out, i)
	}
	return out, nil
}

type job struct {
	pred    *predicate.Predicate
	batch   predicate.Batch
	rows    int
	scalars []int
}

func (j *job) generate(rng *rand.Rand) {
	j.batch = predicate.Batch{Arrays: map[int][]float64{}, Scalars: map[int]float64{}}
	isScalar := make(map[int]bool)
	for _, c := range j.scalars {
		isScalar[c] = true
		j.batch.Scalars[c] = float64(rng.Intn(8) + 1)
	}
	for c := 0; c < expr.NumColumns(j.pred.Expr); c++ {
		if isScalar[c] {
			continue
		}
		col := make([]float64, j.rows)
		for i := range col {
			col[i] = rng.Float64()*20 - 5
		}
		j.batch.Arrays[c] = col
	}
}

// check evaluates the batch natively and compares every row against the
// tree-walking evaluator.
func (j *job) check() (int, error) {
	start := time.Now()
	mask, err := j.pred.Evaluate(j.batch)
	if err != nil {
		return 0, err
	}
	timeslice.Since(tsCheck, start)

	width := expr.NumColumns(j.pred.Expr)
	row := make([]float64, width)
	selected := 0
	for i, got := range mask {
		for c := 0; c < width; c++ {
			if v, ok := j.batch.Scalars[c]; ok {
				row[c] = v
			} else if col, ok := j.batch.Arrays[c]; ok {
				row[c] = col[i]
			}
		}
		if want := j.pred.Expr.Eval(row) != 0; got != want {
			return 0, fmt.Errorf("row %d %v: compiled %v, reference %v", i, row, got, want)
		}
		if got {
			selected++
		}
	}
	return selected, nil
}

func (j *job) bench(iterations int) (time.Duration, error) {
	var pb *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		pb = progressbar.Default(int64(iterations), "evaluating")
		defer pb.Close()
	}
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := j.pred.Evaluate(j.batch); err != nil {
			return 0, err
		}
		if pb != nil {
			pb.Add(1)
		}
	}
	return time.Since(start), nil
}

func run(args []string) error {
	fs := flag.NewFlagSet("exprjit", flag.ExitOnError)

	configFile := fs.String("config", "", "YAML file with code generation flags")
	var sets settings
	fs.Var(&sets, "set", "override a code generation flag (name=value), may repeat")
	exprFile := fs.String("expr", "", "YAML expression tree (default: (a + b) / c < d)")
	scalarCols := fs.String("scalars", "", "comma separated columns passed as scalars")
	rows := fs.Int("rows", 1<<16, "number of generated rows")
	seed := fs.Int64("seed", 1, "random seed for generated columns")
	iterations := fs.Int("bench", 0, "evaluate the batch this many times and report throughput")
	native := fs.Bool("native", true, "call native operations for scalar arithmetic")
	libm := fs.Bool("libm", false, "import pow, fmod and hypot from libm")
	debug := fs.Bool("debug", false, "enable debug logging and IR dumps")
	tsFile := fs.String("tsfile", "", "record a timeslice file for later analysis")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *tsFile != "" {
		f, err := os.Create(*tsFile)
		if err != nil {
			return fmt.Errorf("failed to create tsfile: %w", err)
		}
		defer f.Close()

		closer, err := timeslice.StartRecording(f)
		if err != nil {
			return fmt.Errorf("failed to start recording timeslices: %w", err)
		}
		defer closer.Close()
	}

	flags := jit.DefaultFlags()
	if *configFile != "" {
		var err error
		if flags, err = jit.LoadFlags(*configFile); err != nil {
			return err
		}
	}
	for _, s := range sets {
		name, value, _ := strings.Cut(s, "=")
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	flags.Debug = flags.Debug || *debug

	registry := jit.NewRegistry()
	if err := jit.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register builtins: %w", err)
	}
	if *libm {
		if err := jit.ImportLibm(registry); err != nil {
			return fmt.Errorf("failed to import libm: %w", err)
		}
	}

	unit, err := codegen.NewBuilder(registry).Flags(flags).NativeArithmetic(*native).Build()
	if err != nil {
		return fmt.Errorf("failed to create compilation unit: %w", err)
	}
	defer unit.Close()

	tree, scalars := defaultExpr()
	if *exprFile != "" {
		if tree, err = expr.Load(*exprFile); err != nil {
			return err
		}
		scalars = nil
	}
	if *scalarCols != "" {
		if scalars, err = parseColumns(*scalarCols); err != nil {
			return err
		}
	}

	start := time.Now()
	pred, err := predicate.Compile(unit, "filter", tree, scalars...)
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", tree, err)
	}
	slog.Info("compiled",
		"expr", tree.String(),
		"isa", unit.Module().ISA().String(),
		"code_bytes", unit.Module().CodeSize(),
		"elapsed", time.Since(start))

	j := &job{pred: pred, rows: *rows, scalars: scalars}
	j.generate(rand.New(rand.NewSource(*seed)))

	selected, err := j.check()
	if err != nil {
		return fmt.Errorf("compiled predicate disagrees with reference: %w", err)
	}
	fmt.Printf("%d of %d rows selected\n", selected, *rows)

	if *iterations > 0 {
		elapsed, err := j.bench(*iterations)
		if err != nil {
			return err
		}
		total := float64(*iterations) * float64(*rows)
		fmt.Printf("%d iterations in %s (%.1f Mrows/s)\n", *iterations, elapsed, total/elapsed.Seconds()/1e6)
	}
	return nil
}

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "report" {
		err = report(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "exprjit: %v\n", err)
		os.Exit(1)
	}
}
