// Package perf runs volley benchmarks from Go code.
//
// The command line tool is a thin layer over this package: it turns flags
// into a Config, calls Run and prints the Result.
//
// # Quick Start
//
//	result, err := perf.Run(ctx, &perf.Config{
//	    URL:         "http://127.0.0.1:8080/",
//	    Threads:     2,
//	    Connections: 64,
//	    KeepAlive:   true,
//	    Duration:    perf.Seconds(10),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%.0f requests/second, p99 %v\n", result.Rate, result.Percentile(99))
//
// # Stopping Early
//
// A Runner exposes Stop, which ends sending and waits for outstanding
// responses. A second Stop abandons the wait.
//
//	runner, _ := perf.NewRunner(ctx, cfg)
//	go func() {
//	    <-interrupt
//	    runner.Stop()
//	}()
//	result, _ := runner.Run(ctx)
//
// # Reports
//
// WriteText and WriteJSON render a Result the same way the command does.
package perf
