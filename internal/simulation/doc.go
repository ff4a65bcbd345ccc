// Package simulation drives a cell population through time.
//
// A Driver owns one run: it advances the clock and, each step, brings the
// spatial structure up to date, validates the cell/location mapping,
// applies mechanics and boundary conditions, divides ready cells, runs the
// killers and sweeps the dead. Sampled steps go to an output.Sink. Any
// error aborts the sink so a failed run leaves no partial results.
//
// Build assembles a driver from a config.Config; Run also solves it and
// uploads the result files.
//
// Usage:
//
//	res, err := simulation.Run(ctx, simulation.Setup{
//	    Config: cfg,
//	    RunID:  "run-1",
//	    Seed:   cfg.Simulation.Seed,
//	    Log:    log,
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Summary.Cells)
package simulation
