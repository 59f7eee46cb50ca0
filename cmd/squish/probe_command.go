package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"squish/internal/media/ffprobe"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Show how squish classifies a file and what its streams contain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			source, err := resolveInput(args[0])
			if err != nil {
				return err
			}
			rctx := requestContext(cmd.Context())
			result, err := svc.prober.Inspect(rctx, source)
			if err != nil {
				return err
			}
			mediaType := result.MediaType()

			var info *ffprobe.StreamInfo
			if mediaType == ffprobe.Video {
				if si, err := svc.prober.StreamInfo(rctx, source); err == nil {
					info = &si
				}
			}

			if asJSON {
				return writeJSON(cmd, struct {
					Path       string              `json:"path"`
					MediaType  string              `json:"media_type"`
					Probe      ffprobe.Result      `json:"probe"`
					StreamInfo *ffprobe.StreamInfo `json:"stream_info,omitempty"`
				}{source, mediaType.String(), result, info})
			}

			out := cmd.OutOrStdout()
			pairs := [][2]string{
				{"Path", source},
				{"Type", mediaType.String()},
				{"Container", orDash(result.Format.FormatName)},
				{"Size", humanBytes(result.SizeBytes())},
				{"Duration", formatSeconds(result.DurationSeconds())},
				{"Bit rate", formatBitrate(uint64(max(result.BitRate(), 0)))},
			}
			if info != nil {
				pairs = append(pairs,
					[2]string{"Video bit rate", formatBitrate(info.VideoBitrate)},
					[2]string{"Audio bit rate", formatBitrate(info.AudioBitrate)},
				)
			}
			fmt.Fprintln(out, renderPairs(pairs))

			if len(result.Streams) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(result.Streams))
			for _, s := range result.Streams {
				dims := "-"
				if s.Width > 0 && s.Height > 0 {
					dims = fmt.Sprintf("%dx%d", s.Width, s.Height)
				}
				rows = append(rows, []string{
					strconv.Itoa(s.Index),
					orDash(s.CodecType),
					orDash(s.CodecName),
					dims,
					orDash(s.BitRate),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Kind", "Codec", "Size", "Bit Rate"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	return withJSONFlag(cmd, &asJSON)
}

func formatSeconds(seconds float64) string {
	if math.IsNaN(seconds) || seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fs", seconds)
}

func formatBitrate(bps uint64) string {
	if bps == 0 {
		return "-"
	}
	return fmt.Sprintf("%d kb/s", bps/1000)
}
