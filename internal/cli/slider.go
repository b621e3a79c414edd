package cli

import (
	"io"
	"math"

	"github.com/schollz/progressbar/v3"
)

const sliderSteps = 1000

// slider draws the shared value as a horizontal bar over [0, 1].
type slider struct {
	bar *progressbar.ProgressBar
}

func newSlider(w io.Writer) *slider {
	// One step past the end so a full slider never finishes the bar.
	bar := progressbar.NewOptions(sliderSteps+1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("value"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    "|",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &slider{bar: bar}
}

func (s *slider) Render(v float64, remote bool) {
	if remote {
		s.bar.Describe("remote")
	} else {
		s.bar.Describe("local ")
	}
	_ = s.bar.Set(steps(v))
}

// steps maps v onto the bar, clamping values outside [0, 1].
func steps(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return sliderSteps
	}
	return int(math.Round(v * sliderSteps))
}
