// Command analyze-filter prints the anti-aliasing filters the players use for
// common display rates: DC gain, the -3 dB point, attenuation near Nyquist
// and step-response overshoot.
//
// Usage:
//
//	analyze-filter
//	analyze-filter -source 2000 -target 300 -kind fir -attenuation 80
package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/tphakala/go-sensor-playback/internal/filter"
)

const (
	// Step response length in samples
	stepSamples = 4096

	// Frequencies probed per design, as fractions of the target rate
	probeSteps = 8
)

// Display rates analyzed when no -target is given: a 10 s window on an
// 800 px plot, a 1 s window on 800 px, and a 100 ms window on 100 px.
var defaultTargets = []float64{80, 800, 1000}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	source := flag.Float64("source", 2000, "Source sample rate in Hz")
	target := flag.Float64("target", 0, "Target sample rate in Hz (0 analyzes common display rates)")
	kind := flag.String("kind", "", "Filter kind: butterworth, fir (default: both)")
	stages := flag.Int("stages", 0, "Butterworth cascade depth (0 compares 1 and 2)")
	attenuation := flag.Float64("attenuation", 0, "FIR stopband attenuation in dB")
	flag.Parse()

	targets := defaultTargets
	if *target > 0 {
		targets = []float64{*target}
	}

	var specs []filter.Spec
	switch *kind {
	case "":
		specs = append(specs, filter.Spec{Stages: 1}, filter.Spec{Stages: 2}, filter.Spec{Kind: filter.KindFIR, Attenuation: *attenuation})
	default:
		k, err := filter.ParseKind(*kind)
		if err != nil {
			return err
		}
		if k == filter.KindButterworth && *stages == 0 {
			specs = append(specs, filter.Spec{Stages: 1}, filter.Spec{Stages: 2})
		} else {
			specs = append(specs, filter.Spec{Kind: k, Stages: *stages, Attenuation: *attenuation})
		}
	}

	for _, tgt := range targets {
		fmt.Printf("\n=== %g Hz -> %g Hz ===\n", *source, tgt)
		if !filter.NeedsFilter(*source, tgt) {
			fmt.Println("  Not downsampling: no filter")
			continue
		}
		fmt.Printf("  Cutoff: %g Hz\n", filter.CutoffFor(tgt))

		for _, spec := range specs {
			f, err := filter.Design(*source, tgt, spec)
			if err != nil {
				return fmt.Errorf("design %s for %g Hz: %w", spec.Kind, tgt, err)
			}
			analyze(f, spec, *source, tgt)
		}
	}
	return nil
}

func describe(f filter.Filter, spec filter.Spec) string {
	switch v := f.(type) {
	case *filter.FIR:
		return fmt.Sprintf("FIR, %d taps", len(v.Taps()))
	case filter.Cascade:
		return fmt.Sprintf("Butterworth x%d", len(v))
	case *filter.Butterworth:
		return "Butterworth"
	default:
		return spec.Kind.String()
	}
}

func analyze(f filter.Filter, spec filter.Spec, source, target float64) {
	fmt.Printf("\n  %s\n", describe(f, spec))
	fmt.Printf("    DC gain:        %8.3f dB\n", filter.ResponseDB(f, 0))
	fmt.Printf("    -3 dB point:    %8.2f Hz\n", cornerFrequency(f, source/2))

	for i := 1; i <= probeSteps; i++ {
		freq := target / 2 * float64(i) / (probeSteps / 2)
		if freq >= source/2 {
			break
		}
		fmt.Printf("    %8.1f Hz:    %8.2f dB\n", freq, filter.ResponseDB(f, freq))
	}

	overshoot, settle := stepResponse(f)
	fmt.Printf("    Step overshoot: %8.2f %%\n", overshoot*100)
	fmt.Printf("    Settles (1%%):   %8d samples\n", settle)
}

// cornerFrequency bisects for the -3 dB frequency below nyquist.
func cornerFrequency(f filter.Filter, nyquist float64) float64 {
	lo, hi := 0.0, nyquist
	for range 60 {
		mid := (lo + hi) / 2
		if filter.ResponseDB(f, mid) > -3.0103 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// stepResponse feeds a unit step and reports the peak overshoot and the
// sample after which the output stays within 1% of 1.
func stepResponse(f filter.Filter) (overshoot float64, settle int) {
	f.Reset()
	defer f.Reset()

	for i := range stepSamples {
		y := f.Process(1)
		overshoot = math.Max(overshoot, y-1)
		if math.Abs(y-1) > 0.01 {
			settle = i + 1
		}
	}
	return overshoot, settle
}
