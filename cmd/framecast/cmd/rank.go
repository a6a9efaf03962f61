package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/selector"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank the pipelines for a captured frame",
	Long: `Rank every feasible pipeline for a frame of the given format and size
against the configured capability catalog, best first.

Examples:
  # Neutral preferences for a 1080p BGRA window
  framecast rank --format BGRA --width 1920 --height 1080

  # Quality first, no scaling, top 3 as JSON
  framecast rank --format BGRA --width 1920 --height 1080 \
    --target-quality 100 --target-speed 0 --identity-only --limit 3 --json`,
	RunE: runRank,
}

func init() {
	rootCmd.AddCommand(rankCmd)

	defaults := selector.DefaultConstraints()
	rankCmd.Flags().String("format", string(capability.FormatBGRA), "captured pixel format")
	rankCmd.Flags().Int("width", 1920, "frame width in pixels")
	rankCmd.Flags().Int("height", 1080, "frame height in pixels")
	rankCmd.Flags().Int("min-quality", defaults.MinQuality, "quality floor (0-100)")
	rankCmd.Flags().Int("min-speed", defaults.MinSpeed, "speed floor (0-100)")
	rankCmd.Flags().Int("target-quality", defaults.TargetQuality, "quality preference (0-100)")
	rankCmd.Flags().Int("target-speed", defaults.TargetSpeed, "speed preference (0-100)")
	rankCmd.Flags().Int("max-denominator", 0, "largest scale denominator (0: selector default)")
	rankCmd.Flags().Bool("identity-only", false, "only consider unscaled pipelines")
	rankCmd.Flags().Int("limit", 10, "print at most this many candidates (0: all)")
	rankCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rankCmd.Flags().String("catalog", "", "capability catalog file (default: built-in catalog)")
}

func runRank(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.Capabilities.CatalogPath, _ = flags.GetString("catalog")
	}

	formatName, _ := flags.GetString("format")
	format, err := capability.ParsePixelFormat(formatName)
	if err != nil {
		return err
	}
	width, _ := flags.GetInt("width")
	height, _ := flags.GetInt("height")
	dims := capability.Dimensions{Width: width, Height: height}
	if !dims.Valid() {
		return fmt.Errorf("invalid frame size %s", dims)
	}

	c := selector.DefaultConstraints()
	c.MinQuality, _ = flags.GetInt("min-quality")
	c.MinSpeed, _ = flags.GetInt("min-speed")
	c.TargetQuality, _ = flags.GetInt("target-quality")
	c.TargetSpeed, _ = flags.GetInt("target-speed")
	c.MaxDenominator, _ = flags.GetInt("max-denominator")
	c.IdentityOnly, _ = flags.GetBool("identity-only")

	eng, err := newEngine(cfg, slog.Default())
	if err != nil {
		return err
	}
	ranked, err := eng.selector.Select(format, dims, c)
	if err != nil {
		return fmt.Errorf("ranking %s %s: %w", format, dims, err)
	}

	total := len(ranked)
	if limit, _ := flags.GetInt("limit"); limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := flags.GetBool("json"); asJSON {
		return writeRankJSON(out, format, dims, total, ranked)
	}
	return writeRankTable(out, format, dims, total, ranked)
}

type rankRow struct {
	Pipeline string  `json:"pipeline"`
	Csc      string  `json:"csc,omitempty"`
	Format   string  `json:"format"`
	Encoder  string  `json:"encoder"`
	Scale    string  `json:"scale"`
	Encoded  string  `json:"encoded"`
	Quality  float64 `json:"quality"`
	Speed    float64 `json:"speed"`
	Rank     float64 `json:"rank"`
	Floors   bool    `json:"meets_floors"`
}

func rowFromRanked(r selector.Ranked, dims capability.Dimensions) rankRow {
	return rankRow{
		Pipeline: r.String(),
		Csc:      r.CscName(),
		Format:   string(r.Format),
		Encoder:  r.EncoderName(),
		Scale:    r.Scale.String(),
		Encoded:  r.Scale.Apply(dims).String(),
		Quality:  r.Quality,
		Speed:    r.Speed,
		Rank:     r.Rank,
		Floors:   r.MeetsFloors,
	}
}

func writeRankJSON(w io.Writer, format capability.PixelFormat, dims capability.Dimensions, total int, ranked []selector.Ranked) error {
	doc := struct {
		Format     string    `json:"format"`
		Dimensions string    `json:"dimensions"`
		Total      int       `json:"total"`
		Candidates []rankRow `json:"candidates"`
	}{
		Format:     string(format),
		Dimensions: dims.String(),
		Total:      total,
		Candidates: make([]rankRow, 0, len(ranked)),
	}
	for _, r := range ranked {
		doc.Candidates = append(doc.Candidates, rowFromRanked(r, dims))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeRankTable(w io.Writer, format capability.PixelFormat, dims capability.Dimensions, total int, ranked []selector.Ranked) error {
	fmt.Fprintf(w, "%d feasible pipelines for %s %s\n\n", total, format, dims)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPIPELINE\tENCODED\tQUALITY\tSPEED\tRANK\tFLOORS")
	for i, r := range ranked {
		row := rowFromRanked(r, dims)
		floors := "ok"
		if !row.Floors {
			floors = "below"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%.1f\t%.2f\t%s\n", i+1, row.Pipeline, row.Encoded, row.Quality, row.Speed, row.Rank, floors)
	}
	return tw.Flush()
}
