package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/recorder"
)

var convertFormat string

var convertCmd = &cobra.Command{
	Use:   "convert IN.wbin OUT",
	Short: "Convert a binary recording to CSV",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := convertRecording(args[0], args[1], convertFormat)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Converted %d frames to %s\n", n, args[1])
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertFormat, "format", string(recorder.FormatSimpleCSV), "output format: csv-simple, csv-compact or binary")
	rootCmd.AddCommand(convertCmd)
}

// convertRecording rewrites a WifEyeBinary recording in another layout and
// returns the number of frames copied.
func convertRecording(in, out, format string) (uint64, error) {
	f, err := recorder.ParseFormat(format)
	if err != nil {
		return 0, err
	}
	src, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	br, err := recorder.NewBinaryReader(src)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}

	dst, err := recorder.Open(out, f, br.Subcarriers(), time.Now())
	if err != nil {
		return 0, err
	}
	var rec csi.Record
	for {
		err := br.Next(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			dst.Close()
			return dst.Frames(), fmt.Errorf("%s: %w", in, err)
		}
		if err := dst.WriteRecord(&rec); err != nil {
			dst.Close()
			return dst.Frames(), err
		}
	}
	return dst.Frames(), dst.Close()
}
