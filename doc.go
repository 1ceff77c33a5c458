// Package playback turns a live push stream of strain sensor frames into
// bounded, pull-based display windows resampled to an arbitrary pixel grid.
//
// A device delivers two streams per channel: readings frames (20 strain
// readings every 10 ms, i.e. 2 kHz) and spectral frames (a 560-bin FFT
// magnitude vector every 100 ms). The package resamples either stream onto
// the time grid implied by a [WindowSpec], marks discontinuities with gap
// samples, persists the stream in fixed 100 ms rows, and backfills newly
// created players from those rows so a freshly opened view shows history
// immediately.
//
// # Components
//
//   - [RingBuffer]: fixed-capacity deque used for player output windows and
//     the worker's tail caches.
//   - Players ([StrainGraphPlayer], [ReadingsPlayer], [SpectrogramPlayer],
//     [FFTPlayer]): one resampler plus one output ring each. Frames are
//     pushed in with OnRealtimeReadings / OnRealtimeFrame and drained with
//     GetNewData.
//   - [Worker]: fans every frame out to the channel's players, batches
//     contiguous readings into store rows and builds backfilled players.
//   - [Orchestrator]: reconciles the set of displayed channels on every draw
//     tick and recreates players after a debounced resize.
//
// # Quick Start
//
//	st := store.NewMemory() // or store.OpenBolt(path)
//	w, err := playback.NewWorker(st, playback.WorkerConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	orch, err := playback.NewOrchestrator(w.StrainGraphFactory(), playback.OrchestratorConfig{
//	    DurationMs: 10_000,
//	    Width:      800,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer orch.Close()
//
//	// producer goroutine
//	w.OnRealtimeReadings("ch-1", frame)
//
//	// render loop
//	data, drawn := orch.Draw(ctx, []playback.Channel{{ID: "ch-1"}})
//
// # Gaps
//
// Players expect frames exactly one cadence apart (10 ms for readings,
// 100 ms for spectral frames). Any other spacing appends one gap sample
// (Gap == true) to the output and restarts resampling at the new frame, so
// consumers must break the plotted path at gap samples and never
// interpolate across them.
//
// # Concurrency
//
// Producers and the render loop may run on different goroutines. Worker
// state is partitioned per channel; player creation, backfill and disposal
// hold the channel's lock so they are atomic with respect to that channel's
// ingest. Row writes to the store run after the channel lock is released.
// Draw calls never overlap: a tick that arrives while a draw is in flight is
// skipped. Draw never waits for player creation; new players are built in
// the background, one at a time, and are drained from the first draw after
// their backfill completes.
package playback
