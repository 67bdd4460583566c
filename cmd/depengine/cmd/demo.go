package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/parallux/depengine/internal/depgraph"
	"github.com/parallux/depengine/pkg/collections"
	"github.com/parallux/depengine/pkg/parallel"
	"github.com/parallux/depengine/pkg/region"
)

var scenarioFilter string

// demoCmd drives the specification's own S1-S6 end-to-end scenarios
// through the real engine (registration -> linking -> propagation ->
// finalization) and prints the ready/removable sequence each one produces.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the engine's S1-S6 reference scenarios",
	Long: `demo builds each of the dependency engine's reference scenarios
(RAW, WAR fragmentation, a concurrent group, a reduction fan-in, a nested
parent/child/grandchild, and a contiguous-union removal) against the real
depgraph.Engine and prints the order in which tasks become ready and
removable.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&scenarioFilter, "scenario", "", "Run only the named scenario (S1-S6); runs all when empty")
}

// recorder tracks the ready/removable transitions the engine's Hooks
// report, plus a one-line summary of every instrumentation event, guarded
// by a mutex even though the demo drives the engine from a single
// goroutine — the engine's own contract allows these calls from concurrent
// workers, and both the sink and the hook callbacks should hold up under
// that.
type recorder struct {
	depgraph.NopSink
	mu        sync.Mutex
	log       []string
	ready     []string
	removable []string
}

func newRecorder() (*recorder, *depgraph.Hooks) {
	r := &recorder{}
	hooks := &depgraph.Hooks{
		Sink: r,
		OnReady: func(t *depgraph.Task) {
			r.mu.Lock()
			r.ready = append(r.ready, t.Label)
			r.mu.Unlock()
		},
		OnRemovable: func(t *depgraph.Task) {
			r.mu.Lock()
			r.removable = append(r.removable, t.Label)
			r.mu.Unlock()
		},
	}
	return r, hooks
}

func (r *recorder) line(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func (r *recorder) Linked(prev, next *depgraph.Task, reg region.Region) {
	r.line("linked %s -> %s over %s", prev.Label, next.Label, reg)
}

func (r *recorder) Unlinked(prev, next *depgraph.Task, reg region.Region) {
	r.line("unlinked %s -> %s over %s", prev.Label, next.Label, reg)
}

func (r *recorder) Satisfied(task *depgraph.Task, reg region.Region, read, write, topmost bool) {
	r.line("satisfied %s region=%s read=%t write=%t topmost=%t", task.Label, reg, read, write, topmost)
}

func (r *recorder) Removed(task *depgraph.Task, reg region.Region) {
	r.line("removed %s region=%s", task.Label, reg)
}

// scenario is one S1-S6 run: run drives the real engine and returns once
// every task in the scenario has either finished or is deliberately left
// blocked, so the recorder's ready/removable slices reflect the complete
// sequence for that scenario.
type scenario struct {
	name string
	run  func(eng *depgraph.Engine)
}

// scenarioOutcome is one scenario's recorded result, pulled out of its
// recorder so the pool's ExecuteFunc can hand it back across goroutines
// without exposing the recorder itself.
type scenarioOutcome struct {
	log       []string
	ready     []string
	removable []string
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	all := []scenario{
		{"S1", scenarioS1RAW},
		{"S2", scenarioS2WARFragmentation},
		{"S3", scenarioS3ConcurrentGroup},
		{"S4", scenarioS4ReductionFanIn},
		{"S5", scenarioS5NestedParent},
		{"S6", scenarioS6ContiguousUnionRemoval},
	}

	var scenarios []scenario
	for _, sc := range all {
		if scenarioFilter == "" || strings.EqualFold(scenarioFilter, sc.name) {
			scenarios = append(scenarios, sc)
		}
	}

	// Each scenario owns an isolated engine and recorder, so the pool can
	// run them across its workers; ExecuteFunc preserves input order in its
	// result slice regardless of completion order.
	pool := parallel.NewWorkerPool[scenario, scenarioOutcome](parallel.DefaultPoolConfig())
	results := pool.ExecuteFunc(context.Background(), scenarios, func(_ context.Context, sc scenario) (scenarioOutcome, error) {
		rec, hooks := newRecorder()
		eng := depgraph.NewEngine(hooks)
		sc.run(eng)
		return scenarioOutcome{log: rec.log, ready: rec.ready, removable: rec.removable}, nil
	})

	steps := collections.NewBitset(len(scenarios))
	for i, sc := range scenarios {
		log.Info("=== scenario %s ===", sc.name)
		outcome := results[i].Result
		for _, line := range outcome.log {
			log.Debug("  %s", line)
		}
		fmt.Printf("%s: ready=%v removable=%v\n", sc.name, outcome.ready, outcome.removable)
		steps.Set(i)
	}

	fmt.Printf("scenarios run: %d/%d\n", steps.Count(), steps.Size())
	return nil
}

// declareFn builds the declare callback RegisterTaskAccesses expects: it
// registers a single access on the task and nothing else, which is all
// these scenarios need.
func declareFn(kind depgraph.AccessKind, weak bool, r region.Region, reductionOp string) func(*depgraph.Task) error {
	return func(t *depgraph.Task) error {
		return depgraph.RegisterTaskAccess(t, kind, weak, r, reductionOp, nil)
	}
}

// scenarioS1RAW: parent declares [0,1024) inout; child A writes, child B
// reads. B must not become ready until A finalizes.
func scenarioS1RAW(eng *depgraph.Engine) {
	parent := depgraph.NewTask("S1.parent", nil)

	a := depgraph.NewTask("S1.A", parent)
	eng.RegisterTaskAccesses(a, declareFn(depgraph.Write, false, region.New(0, 1024), ""))

	b := depgraph.NewTask("S1.B", parent)
	eng.RegisterTaskAccesses(b, declareFn(depgraph.Read, false, region.New(0, 1024), ""))

	// A runs to completion; finishing it satisfies and releases B.
	eng.UnregisterTaskAccesses(a)
	eng.UnregisterTaskAccesses(b)
}

// scenarioS2WARFragmentation: A writes [0,512); B reads [256,768). B's
// access splits at 512, with the [256,512) half linked behind A and the
// [512,768) half satisfied immediately as a local miss.
func scenarioS2WARFragmentation(eng *depgraph.Engine) {
	parent := depgraph.NewTask("S2.parent", nil)

	a := depgraph.NewTask("S2.A", parent)
	eng.RegisterTaskAccesses(a, declareFn(depgraph.Write, false, region.FromBounds(0, 512), ""))

	b := depgraph.NewTask("S2.B", parent)
	eng.RegisterTaskAccesses(b, declareFn(depgraph.Read, false, region.FromBounds(256, 768), ""))

	eng.UnregisterTaskAccesses(a)
}

// scenarioS3ConcurrentGroup: A, B, C all declare [0,64) concurrent under a
// common parent; all three become satisfied immediately on linking.
func scenarioS3ConcurrentGroup(eng *depgraph.Engine) {
	parent := depgraph.NewTask("S3.parent", nil)
	for _, label := range []string{"A", "B", "C"} {
		t := depgraph.NewTask("S3."+label, parent)
		eng.RegisterTaskAccesses(t, declareFn(depgraph.Concurrent, false, region.New(0, 64), ""))
	}
}

// scenarioS4ReductionFanIn: eight reduction accesses over the same region
// and op all start in parallel; a subsequent read does not start until all
// eight finish.
func scenarioS4ReductionFanIn(eng *depgraph.Engine) {
	parent := depgraph.NewTask("S4.parent", nil)
	reducers := make([]*depgraph.Task, 8)
	for i := range reducers {
		label := fmt.Sprintf("R%d", i+1)
		t := depgraph.NewTask("S4."+label, parent)
		reducers[i] = t
		eng.RegisterTaskAccesses(t, declareFn(depgraph.Reduction, false, region.New(0, 64), "sum"))
	}

	reader := depgraph.NewTask("S4.Reader", parent)
	eng.RegisterTaskAccesses(reader, declareFn(depgraph.Read, false, region.New(0, 64), ""))

	for _, t := range reducers {
		eng.UnregisterTaskAccesses(t)
	}
}

// scenarioS5NestedParent: Parent -> X -> Y. X finishing while Y is still
// live leaves X removal-blocked by Y; once Y finishes the bottom map
// drains and X becomes removable.
func scenarioS5NestedParent(eng *depgraph.Engine) {
	parent := depgraph.NewTask("S5.Parent", nil)
	eng.RegisterTaskAccesses(parent, declareFn(depgraph.ReadWrite, false, region.New(0, 256), ""))

	x := depgraph.NewTask("S5.X", parent)
	eng.RegisterTaskAccesses(x, declareFn(depgraph.ReadWrite, false, region.New(0, 256), ""))

	y := depgraph.NewTask("S5.Y", x)
	eng.RegisterTaskAccesses(y, declareFn(depgraph.Read, false, region.FromBounds(64, 192), ""))

	eng.UnregisterTaskAccesses(x)
	eng.UnregisterTaskAccesses(y)
	eng.HandleTaskRemoval(y)
}

// scenarioS6ContiguousUnionRemoval: two sibling accesses [0,64) and [64,128)
// become removable through two separate UnregisterTaskAccesses calls; one
// HandleTaskRemoval call per sibling then clears that sibling's region on
// the parent. The two regions are applied one at a time, not coalesced into
// a single [0,128) region.
func scenarioS6ContiguousUnionRemoval(eng *depgraph.Engine) {
	parent := depgraph.NewTask("S6.parent", nil)
	eng.RegisterTaskAccesses(parent, declareFn(depgraph.ReadWrite, false, region.New(0, 128), ""))

	a := depgraph.NewTask("S6.A", parent)
	eng.RegisterTaskAccesses(a, declareFn(depgraph.Write, false, region.FromBounds(0, 64), ""))
	b := depgraph.NewTask("S6.B", parent)
	eng.RegisterTaskAccesses(b, declareFn(depgraph.Write, false, region.FromBounds(64, 128), ""))

	eng.UnregisterTaskAccesses(a)
	eng.UnregisterTaskAccesses(b)
	eng.HandleTaskRemoval(a)
	eng.HandleTaskRemoval(b)
}
