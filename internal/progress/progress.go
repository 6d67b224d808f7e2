// Package progress shows a textual progress bar while a data source is
// consumed.
package progress

import (
	"io"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/FlavioCFOliveira/neurobench/internal/data"
)

// Bar wraps a data source and advances one tick per batch. It implements
// data.Describer, so the trainer can put the last step time in the bar.
type Bar struct {
	src data.Source
	bar *progressbar.ProgressBar
}

// Wrap returns src decorated with a bar drawn on w.
func Wrap(src data.Source, w io.Writer) *Bar {
	bar := progressbar.NewOptions(src.Len(),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("it"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(0),
		progressbar.OptionOnCompletion(func() { io.WriteString(w, "\n") }),
	)
	return &Bar{src: src, bar: bar}
}

func (b *Bar) Next() (data.Batch, error) {
	batch, err := b.src.Next()
	if errors.Is(err, data.ErrExhausted) {
		b.bar.Finish()
		return batch, err
	}
	if err != nil {
		return batch, err
	}
	b.bar.Add(1)
	return batch, nil
}

func (b *Bar) Len() int { return b.src.Len() }

// Describe replaces the text shown before the bar.
func (b *Bar) Describe(desc string) { b.bar.Describe(desc) }
