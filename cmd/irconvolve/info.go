package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cwbudde/algo-dsp/measure/ir"
	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/core"
)

// printInfo writes room acoustic metrics for every channel of an impulse.
func printInfo(ctx context.Context, w io.Writer, pool *asset.Pool, name string) error {
	h, err := pool.Resolve(ctx, name, asset.AudioFiles)
	if err != nil {
		return err
	}
	defer h.Release()

	resp := h.IR()
	fmt.Fprintf(w, "%s\n\n", resp)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Ch\tLevel [dBFS]\tPeak\tRT60 [s]\tEDT [s]\tC50 [dB]\tC80 [dB]\tD50\tTs [ms]\t\n")

	an := ir.NewAnalyzer(resp.SampleRate())
	for c := range resp.NumChannels() {
		ch := resp.Channel(c)
		level := core.LinearToDB(vecmath.MaxAbs(ch))

		m, err := an.Analyze(ch)
		if err != nil {
			fmt.Fprintf(tw, "%d\t%.1f\t%v\t\t\t\t\t\t\t\n", c, level, err)
			continue
		}
		fmt.Fprintf(tw, "%d\t%.1f\t%d\t%.3f\t%.3f\t%.1f\t%.1f\t%.2f\t%.1f\t\n",
			c, level, m.PeakIndex, m.RT60, m.EDT, m.C50, m.C80, m.D50, m.CenterTime*1000)
	}

	return tw.Flush()
}
