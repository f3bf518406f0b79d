// Package simulation evaluates scenarios end to end: it builds the
// pre-perturbation satisfaction matrix, lets every strategy choose a plan,
// applies the scenario's perturbation, rebuilds the matrix, and reports
// whether each choice survived and by what worst-case margin.
//
// Each scenario is a pure function of the scenario and the shared read-only
// catalog, so the Runner spreads scenarios over a bounded worker pool. The
// Random strategy draws from a PCG source seeded with (seed, scenario ID),
// which keeps results identical under any worker count.
//
// Usage:
//
//	sim, err := simulation.New(catalog, impact.NewModel(catalog.Contributions),
//	    simulation.WithSeed(42))
//	if err != nil {
//	    return err
//	}
//	r := simulation.NewRunner(sim, simulation.WithWorkers(8))
//	stats, err := r.Run(ctx, space, simulation.SinkFunc(func(res simulation.Result) error {
//	    return w.Write(res.Record(space.Columns()))
//	}))
package simulation
