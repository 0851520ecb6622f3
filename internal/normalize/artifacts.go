package normalize

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// ArtifactSink receives the intermediate images of a normalization run
type ArtifactSink interface {
	Save(filename string, data []byte) (string, error)
}

// run tags the artifacts of one Normalize call
type run struct {
	sink   ArtifactSink
	prefix string
}

func (n *Normalizer) newRun() run {
	if n.sink == nil {
		return run{}
	}
	seq := n.runs.Add(1)
	return run{
		sink:   n.sink,
		prefix: fmt.Sprintf("%s_%04d", n.now().UTC().Format("20060102T150405"), seq),
	}
}

func (r run) save(step string, m gocv.Mat) {
	if r.sink == nil {
		return
	}

	img, err := m.ToImage()
	if err != nil {
		slog.Warn("Failed to convert debug image", "step", step, "error", err)
		return
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		slog.Warn("Failed to encode debug image", "step", step, "error", err)
		return
	}

	name := fmt.Sprintf("%s_%s.png", r.prefix, step)
	path, err := r.sink.Save(name, buf.Bytes())
	if err != nil {
		slog.Warn("Failed to write debug image", "step", step, "error", err)
		return
	}
	slog.Debug("Wrote debug image", "path", path)
}
