// Command simulate plays a preset many times with a random scratch order and
// reports at which reveal each winning value showed up. It is a quick check
// that thresholds hold and that late values still come out in practice.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/scratchcard/game/config"
	"github.com/wricardo/scratchcard/game/engine"
)

var log = logrus.WithField("pkg", "simulate")

// ValueStats collects where one winning value appeared across plays.
type ValueStats struct {
	Value     int
	Threshold int
	// Positions[p] counts plays where the value was exposed by reveal p (1-based).
	Positions map[int]int
	// Violations counts exposures with fewer than Threshold prior reveals.
	Violations int
	Deflected  int
	Missing    int
}

// Report is the outcome of a simulation run.
type Report struct {
	Name     string
	GridSize int
	Plays    int
	Values   []*ValueStats
}

// simulate plays cfg n times, scratching every cell in a shuffled order.
func simulate(cfg *engine.GameConfig, n int, rng *rand.Rand) (*Report, error) {
	if err := engine.ValidateGameConfig(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	cfg.Normalize()
	thresholds := cfg.Thresholds()

	report := &Report{Name: cfg.Name, GridSize: cfg.GridSize, Plays: n}
	stats := make(map[int]*ValueStats, len(thresholds))
	for _, wv := range cfg.WinningValues {
		s := &ValueStats{Value: wv.Value, Threshold: wv.Threshold, Positions: make(map[int]int)}
		stats[wv.Value] = s
		report.Values = append(report.Values, s)
	}

	for play := 0; play < n; play++ {
		state := engine.NewGameState(cfg.GridSize, rng)
		seen := make(map[int]bool, len(stats))

		for _, idx := range rng.Perm(cfg.GridSize) {
			res, err := state.Reveal(idx, thresholds, rng)
			if err != nil {
				return nil, err
			}
			if res.Deflected {
				// the deflected value belongs to the cell value before the swap
				if s, ok := stats[state.Numbers[res.SwapTarget]]; ok {
					s.Deflected++
				}
			}
			s, ok := stats[res.Value]
			if !ok || !res.Winning {
				continue
			}
			seen[res.Value] = true
			s.Positions[res.RevealedCount+1]++
			if res.RevealedCount < s.Threshold {
				s.Violations++
			}
		}
		for value, s := range stats {
			if !seen[value] {
				s.Missing++
			}
		}
	}

	return report, nil
}

// Print writes a human-readable summary of the report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "=== %s (%d cells, %d plays) ===\n", r.Name, r.GridSize, r.Plays)
	for _, s := range r.Values {
		fmt.Fprintf(w, "value %d (threshold %d)\n", s.Value, s.Threshold)

		exposed := r.Plays - s.Missing
		if exposed == 0 {
			fmt.Fprintf(w, "  never exposed\n")
			continue
		}

		positions := make([]int, 0, len(s.Positions))
		total := 0
		for p, count := range s.Positions {
			positions = append(positions, p)
			total += p * count
		}
		sort.Ints(positions)

		fmt.Fprintf(w, "  earliest reveal: %d, latest: %d, mean: %.1f\n",
			positions[0], positions[len(positions)-1], float64(total)/float64(exposed))
		fmt.Fprintf(w, "  deflected %d times, missing in %d plays\n", s.Deflected, s.Missing)
		if s.Violations > 0 {
			fmt.Fprintf(w, "  WARNING: exposed early %d times\n", s.Violations)
		} else {
			fmt.Fprintf(w, "  threshold held in every play\n")
		}
	}
}

func presetPaths(dir string, names []string) ([]string, error) {
	if len(names) > 0 {
		paths := make([]string, len(names))
		for i, name := range names {
			paths[i] = filepath.Join(dir, strings.TrimSuffix(name, ".json")+".json")
		}
		return paths, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	paths, err := presetPaths(cmd.String("config-dir"), cmd.Args().Slice())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no presets found in %s", cmd.String("config-dir"))
	}

	seed := uint64(cmd.Int("seed"))
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	for _, path := range paths {
		cfg, err := config.ParseFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("skipping preset")
			continue
		}
		report, err := simulate(cfg, cmd.Int("plays"), rng)
		if err != nil {
			return err
		}
		report.Print(os.Stdout)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:      "simulate",
		Usage:     "play presets repeatedly and report when winning values appear",
		ArgsUsage: "[preset ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-dir", Value: "configs", Usage: "directory of preset files"},
			&cli.IntFlag{Name: "plays", Value: 1000, Usage: "plays per preset"},
			&cli.IntFlag{Name: "seed", Value: 1, Usage: "random seed"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithError(err).Fatal("simulation failed")
	}
}
