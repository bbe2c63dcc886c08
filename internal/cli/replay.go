package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/replay"
)

func newReplayCmd(g *globalOptions) *cobra.Command {
	var (
		file       string
		speed      float64
		keys       []string
		endpoints  []string
		outputJSON bool
		lf         limiterFlags
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded traffic through a limiter",
		Long: `Replays previously recorded traffic through one limiter per key.

Records are replayed in timestamp order. A virtual clock jumps across the
gaps between records, so limits behave as they did live, at any speed.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  ratekit replay --file traffic.json
  ratekit replay --file traffic.json --speed 100 --algorithm sliding_window_log
  ratekit replay --file traffic.json --keys user1,user2 --endpoints /api
  ratekit replay --file traffic.json --config ratekit.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			cfg, _, err := g.load(cmd)
			if err != nil {
				return err
			}
			lf.apply(cmd, &cfg.Limiter)

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer f.Close()

			vc := clock.NewVirtualClock(time.Unix(0, 0).UTC())
			r, err := replay.New(cfg.Limiter, vc, speed, &replay.Filter{
				Keys:      keys,
				Endpoints: endpoints,
			})
			if err != nil {
				return err
			}
			if err := r.Load(f); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Replaying %s through %s at %gx speed...\n\n", file, cfg.Limiter.Algorithm, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				status := "ALLOW"
				if !res.Allowed {
					status = "DENY "
				}
				fmt.Fprintf(out, "  [%s] %s key=%s units=%d %s\n",
					status,
					res.Record.Timestamp.Format("15:04:05.000"),
					res.Record.Key,
					res.Record.N(),
					res.Record.Endpoint)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Results []replay.Result `json:"results"`
					Summary *replay.Summary `json:"summary"`
				}{results, summary})
			}
			printReplaySummary(out, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to recorded traffic JSON file (required)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "filter by keys (comma-separated)")
	cmd.Flags().StringSliceVar(&endpoints, "endpoints", nil, "filter by endpoint substrings (comma-separated)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	lf.register(cmd)

	return cmd
}

func printReplaySummary(w io.Writer, s *replay.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- Replay Summary ---")
	fmt.Fprintf(w, "  Total records:  %d\n", s.TotalRecords)
	fmt.Fprintf(w, "  Filtered:       %d\n", s.Filtered)
	fmt.Fprintf(w, "  Replayed:       %d\n", s.Replayed)
	fmt.Fprintf(w, "  Allowed:        %d (%d units)\n", s.Allowed, s.UnitsAllowed)
	fmt.Fprintf(w, "  Denied:         %d (%d units)\n", s.Denied, s.UnitsDenied)
	fmt.Fprintf(w, "  Virtual time:   %s\n", s.Duration)
	fmt.Fprintf(w, "  Wall time:      %s\n", s.WallDuration.Round(time.Millisecond))

	if len(s.PerKey) > 1 {
		keys := make([]string, 0, len(s.PerKey))
		for k := range s.PerKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Per key:")
		for _, key := range keys {
			ks := s.PerKey[key]
			fmt.Fprintf(w, "    %s: %d allowed, %d denied\n", key, ks.Allowed, ks.Denied)
		}
	}

	if s.Denied > 0 && s.Allowed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		denyRate := float64(s.Denied) / float64(s.Replayed) * 100
		fmt.Fprintf(w, "Deny rate: %.1f%% (%d/%d requests denied)\n", denyRate, s.Denied, s.Replayed)
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
