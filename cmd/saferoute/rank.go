package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dpup/saferoute/server/internal/export"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank candidate routes against reports and news",
	Long: `Scores each candidate route in --routes against the incidents in
--reports and --news, drops routes that pass too close to an incident and
prints the ranking. Pass --now to score against a fixed instant.`,
	Example: `  saferoute rank --routes routes.json --reports reports.json --news feed.json
  saferoute rank --routes routes.json --reports reports.json --format kml > routes.kml`,
	RunE: runRank,
}

func init() {
	f := rankCmd.Flags()
	f.String("routes", "", "JSON file of route candidates (required)")
	f.String("reports", "", "JSON file of incident reports")
	f.String("news", "", "JSON news feed document")
	f.String("now", "", "reference time for recency decay, RFC3339 (default: current time)")
	f.String("format", "text", "output format: text, json, kml, geojson")
	_ = rankCmd.MarkFlagRequired("routes")

	rootCmd.AddCommand(rankCmd)
}

func runRank(cmd *cobra.Command, args []string) error {
	log := zap.L().With(zap.String("command", "rank"))

	routesPath, _ := cmd.Flags().GetString("routes")
	reportsPath, _ := cmd.Flags().GetString("reports")
	newsPath, _ := cmd.Flags().GetString("news")
	nowValue, _ := cmd.Flags().GetString("now")
	format, _ := cmd.Flags().GetString("format")

	now, err := parseNow(nowValue)
	if err != nil {
		return err
	}
	candidates, err := loadCandidates(routesPath)
	if err != nil {
		return err
	}
	reports, err := loadReports(reportsPath)
	if err != nil {
		return err
	}
	news, rejected, err := loadNews(newsPath)
	if err != nil {
		return err
	}
	if rejected > 0 {
		log.Warn("skipped malformed news items", zap.Int("rejected", rejected))
	}

	log.Info("ranking routes",
		zap.Int("candidates", len(candidates)),
		zap.Int("reports", len(reports)),
		zap.Int("news", len(news)),
		zap.Time("now", now),
	)

	ranker := routing.NewRouteRanker(cfg.Risk, cfg.Ranking)
	result, err := ranker.Rank(candidates, incident.NewContext(reports, news, now))
	if err != nil {
		return eris.Wrap(err, "rank routes")
	}
	if result.AllExcluded {
		log.Warn("every candidate failed the safety check, showing unfiltered ranking")
	}

	var hotspots []hotspot.Hotspot
	if format == "kml" || format == "geojson" {
		hotspots = hotspot.Detect(incident.NewContext(reports, nil, now).ReportPoints(), cfg.Hotspots.Config)
	}

	return writeRanking(cmd.OutOrStdout(), format, result, candidates, hotspots, now)
}

func writeRanking(w io.Writer, format string, result routing.Result, candidates []routing.RouteCandidate, hotspots []hotspot.Hotspot, now time.Time) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "kml":
		return export.WriteKML(w, result, hotspots)
	case "geojson":
		return export.WriteGeoJSON(w, result, candidates, hotspots)
	case "text":
		return writeRankingText(w, result, now)
	default:
		return eris.Errorf("unknown format %q", format)
	}
}

func writeRankingText(w io.Writer, result routing.Result, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tROUTE\tDURATION\tDISTANCE\tRISK\tSCORE\tCOLOR")
	for _, r := range result.Routes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.1f\t%.0f\t%s\n",
			r.Rank,
			r.Candidate.ID,
			formatDuration(r.DurationSeconds),
			humanize.SIWithDigits(r.Candidate.DistanceMeters, 2, "m"),
			r.Risk,
			r.Score,
			r.Color,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if result.AllExcluded {
		fmt.Fprintln(w, "\nWARNING: every route passes close to a recent incident; none were removed")
	}
	for _, ex := range result.Excluded {
		fmt.Fprintf(w, "excluded %s: %s\n", ex.ID, ex.Violation)
	}
	fmt.Fprintf(w, "\nscored at %s\n", now.Format(time.RFC3339))
	return nil
}

// formatDuration renders seconds as a walk time, e.g. "24 min" or "1 h 5 min"
func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%d min", int(d.Minutes()))
	}
	return fmt.Sprintf("%d h %d min", int(d.Hours()), int(d.Minutes())%60)
}
