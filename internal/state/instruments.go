package state

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"reductioncore/pkg/stateapi"
)

type extraField struct {
	external string
	spec     stateapi.FieldSpec
}

type instrument struct {
	name                string
	detectors           []string
	spectra             int
	incidentMonitor     int
	transmissionMonitor int
	// modeAliases maps friendly detector names onto reduction modes.
	modeAliases map[string]string
	promptPeak  bool
	move        []extraField
}

func (i instrument) multiDetector() bool { return len(i.detectors) >= 2 }

var rearZ = extraField{"rear_z", stateapi.FieldSpec{Name: "rear_det_z_correction", Kind: stateapi.KindFloat, Default: 0.0}}

var isisInstruments = []instrument{
	{
		name:                "LOQ",
		detectors:           []string{"main-detector-bank", "HAB"},
		spectra:             17792,
		incidentMonitor:     2,
		transmissionMonitor: 3,
		modeAliases:         map[string]string{"main": "LAB", "rear": "LAB", "hab": "HAB", "front": "HAB", "both": "ALL", "merged": "MERGED"},
		promptPeak:          true,
		move: []extraField{
			{"centre_position", stateapi.FieldSpec{Name: "center_position", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0), Default: 317.5}},
		},
	},
	{
		name:                "SANS2D",
		detectors:           []string{"rear-detector", "front-detector"},
		spectra:             36872,
		incidentMonitor:     1,
		transmissionMonitor: 4,
		modeAliases:         map[string]string{"rear": "LAB", "front": "HAB", "both": "ALL", "merged": "MERGED"},
		move: []extraField{
			{"front_x", stateapi.FieldSpec{Name: "front_det_x_correction", Kind: stateapi.KindFloat, Default: 0.0}},
			{"front_z", stateapi.FieldSpec{Name: "front_det_z_correction", Kind: stateapi.KindFloat, Default: 0.0}},
			{"front_rotation", stateapi.FieldSpec{Name: "front_det_rotation_correction", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(-180), Upper: stateapi.Inclusive(180), Default: 0.0}},
			rearZ,
		},
	},
	{
		name:                "LARMOR",
		detectors:           []string{"DetectorBench"},
		spectra:             101800,
		incidentMonitor:     2,
		transmissionMonitor: 5,
		modeAliases:         map[string]string{"rear": "LAB", "main": "LAB"},
		move: []extraField{
			{"bench_rotation", stateapi.FieldSpec{Name: "bench_rotation", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(-180), Upper: stateapi.Inclusive(180), Default: 0.0}},
		},
	},
	{
		name:                "ZOOM",
		detectors:           []string{"rear-detector"},
		spectra:             16392,
		incidentMonitor:     3,
		transmissionMonitor: 4,
		modeAliases:         map[string]string{"rear": "LAB"},
		move:                []extraField{rearZ},
	},
}

// NominalGeometry returns the design geometry of every built-in instrument,
// valid from run 0.
func NominalGeometry() StaticGeometry {
	out := make(StaticGeometry, 0, len(isisInstruments))
	for _, inst := range isisInstruments {
		out = append(out, stateapi.DetectorGeometry{
			Instrument:    inst.name,
			DetectorCount: len(inst.detectors),
			SpectrumCount: inst.spectra,
			Detectors:     append([]string(nil), inst.detectors...),
		})
	}
	return out
}

// StaticGeometry is an in-process geometry table. Each entry is valid from its
// Run onwards until a later entry for the same instrument supersedes it.
type StaticGeometry []stateapi.DetectorGeometry

// Geometry returns the latest entry for instrument whose Run does not exceed
// run.
func (s StaticGeometry) Geometry(ctx context.Context, instrument string, run int) (stateapi.DetectorGeometry, error) {
	if err := ctx.Err(); err != nil {
		return stateapi.DetectorGeometry{}, err
	}
	best := -1
	for i, g := range s {
		if !strings.EqualFold(g.Instrument, instrument) || g.Run > run {
			continue
		}
		if best < 0 || g.Run > s[best].Run {
			best = i
		}
	}
	if best < 0 {
		return stateapi.DetectorGeometry{}, fmt.Errorf("%w: %s run %d", stateapi.ErrGeometryNotFound, instrument, run)
	}
	out := s[best]
	out.Detectors = append([]string(nil), out.Detectors...)
	return out, nil
}

// ParseRunNumber extracts the run number from a run or file reference such as
// "SANS2D00022048", "LOQ74044.nxs" or "22048". A leading instrument prefix
// must name instrument.
func ParseRunNumber(instrument, ref string) (int, error) {
	base := strings.TrimSpace(strings.ReplaceAll(ref, `\`, "/"))
	base = path.Base(base)
	if ext := path.Ext(base); ext != "" && !isDigits(ext[1:]) {
		base = strings.TrimSuffix(base, ext)
	}
	end := len(base)
	start := end
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, fmt.Errorf("%q carries no run number", ref)
	}
	prefix := strings.TrimRight(base[:start], "_-")
	if prefix != "" && !strings.EqualFold(prefix, instrument) {
		return 0, fmt.Errorf("run %q does not belong to %s", ref, instrument)
	}
	run, err := strconv.Atoi(base[start:])
	if err != nil {
		return 0, fmt.Errorf("run %q: %w", ref, err)
	}
	if run <= 0 {
		return 0, fmt.Errorf("run %q must be positive", ref)
	}
	return run, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
