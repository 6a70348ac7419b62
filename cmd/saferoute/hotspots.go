package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dpup/saferoute/server/internal/export"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

var hotspotsCmd = &cobra.Command{
	Use:   "hotspots",
	Short: "Cluster incident reports into hotspots",
	Example: `  saferoute hotspots --reports reports.json
  saferoute hotspots --reports reports.json --set hotspots.min_count=5 --format geojson`,
	RunE: runHotspots,
}

func init() {
	f := hotspotsCmd.Flags()
	f.String("reports", "", "JSON file of incident reports (required)")
	f.String("format", "text", "output format: text, json, kml, geojson")
	_ = hotspotsCmd.MarkFlagRequired("reports")

	rootCmd.AddCommand(hotspotsCmd)
}

func runHotspots(cmd *cobra.Command, args []string) error {
	log := zap.L().With(zap.String("command", "hotspots"))

	reportsPath, _ := cmd.Flags().GetString("reports")
	format, _ := cmd.Flags().GetString("format")

	reports, err := loadReports(reportsPath)
	if err != nil {
		return err
	}

	points := incident.Context{Reports: reports}.ReportPoints()
	hotspots := hotspot.Detect(points, cfg.Hotspots.Config)
	log.Info("clustered reports",
		zap.Int("reports", len(points)),
		zap.Int("hotspots", len(hotspots)),
		zap.Float64("cluster_radius_m", cfg.Hotspots.RadiusMeters),
	)

	return writeHotspots(cmd.OutOrStdout(), format, hotspots, len(points))
}

func writeHotspots(w io.Writer, format string, hotspots []hotspot.Hotspot, total int) error {
	switch format {
	case "json":
		if hotspots == nil {
			hotspots = []hotspot.Hotspot{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hotspots)
	case "kml":
		return export.WriteKML(w, routing.Result{}, hotspots)
	case "geojson":
		return export.WriteGeoJSON(w, routing.Result{}, nil, hotspots)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LAT\tLNG\tREPORTS\tRADIUS")
		for _, h := range hotspots {
			fmt.Fprintf(tw, "%.5f\t%.5f\t%s\t%s\n",
				h.Centroid.Latitude,
				h.Centroid.Longitude,
				humanize.Comma(int64(h.Count)),
				humanize.SIWithDigits(h.RadiusMeters, 0, "m"),
			)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "\n%s hotspots from %s reports\n",
			humanize.Comma(int64(len(hotspots))), humanize.Comma(int64(total)))
		return err
	default:
		return eris.Errorf("unknown format %q", format)
	}
}
