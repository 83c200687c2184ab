package screen

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"testing"

	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

type fakeGrabber struct {
	img image.Image
	err error
}

func (f *fakeGrabber) Grab() (image.Image, error) { return f.img, f.err }

type fakeAnalyzer struct {
	res        *types.ScreenResult
	err        error
	calls      int
	guidelines string
	knowledge  string
}

func (f *fakeAnalyzer) AnalyzeScreen(_ context.Context, _ []byte, guidelines, knowledge string) (*types.ScreenResult, error) {
	f.calls++
	f.guidelines = guidelines
	f.knowledge = knowledge
	return f.res, f.err
}

func testMode() func() types.Mode {
	return func() types.Mode {
		return types.Mode{Guidelines: "be concise", FileContent: "kb text"}
	}
}

func newTestSampler(g Grabber, a Analyzer, emit func(types.Insight)) *Sampler {
	return New(g, a, testMode(), emit, DefaultInterval, slog.New(slog.DiscardHandler))
}

func TestSampleEmitsInsight(t *testing.T) {
	t.Parallel()

	grab := &fakeGrabber{img: image.NewRGBA(image.Rect(0, 0, 64, 48))}
	anal := &fakeAnalyzer{res: &types.ScreenResult{Question: " What is a goroutine? ", Answer: "A lightweight thread."}}
	var got []types.Insight
	s := newTestSampler(grab, anal, func(i types.Insight) { got = append(got, i) })

	if !s.SampleOnce(context.Background()) {
		t.Fatal("expected an insight")
	}
	if len(got) != 1 {
		t.Fatalf("emitted %d insights, want 1", len(got))
	}
	if got[0].Type != types.InsightScreen {
		t.Errorf("type = %q, want screen", got[0].Type)
	}
	if got[0].Question != "What is a goroutine?" {
		t.Errorf("question = %q", got[0].Question)
	}
	if anal.guidelines != "be concise" || anal.knowledge != "kb text" {
		t.Error("mode context not passed to analyzer")
	}
}

func TestSampleAbsorbsAnalysisFailure(t *testing.T) {
	t.Parallel()

	grab := &fakeGrabber{img: image.NewRGBA(image.Rect(0, 0, 64, 48))}
	anal := &fakeAnalyzer{err: errors.New("deadline exceeded")}
	s := newTestSampler(grab, anal, func(types.Insight) { t.Fatal("no insight expected") })

	if s.SampleOnce(context.Background()) {
		t.Fatal("failed analysis produced an insight")
	}

	// The next tick still fires: a fresh call goes through once the
	// analyzer recovers.
	anal.err = nil
	anal.res = &types.ScreenResult{Question: "Q", Answer: "A"}
	emitted := false
	s.emit = func(types.Insight) { emitted = true }
	if !s.SampleOnce(context.Background()) || !emitted {
		t.Fatal("sampler did not recover after a failed tick")
	}
	if anal.calls != 2 {
		t.Fatalf("analyzer calls = %d, want 2", anal.calls)
	}
}

func TestSampleEmptyQuestionIsNoop(t *testing.T) {
	t.Parallel()

	grab := &fakeGrabber{img: image.NewRGBA(image.Rect(0, 0, 64, 48))}
	anal := &fakeAnalyzer{res: &types.ScreenResult{Question: "  ", Answer: "noise"}}
	s := newTestSampler(grab, anal, func(types.Insight) { t.Fatal("no insight expected") })

	if s.SampleOnce(context.Background()) {
		t.Fatal("empty question produced an insight")
	}
}

func TestSampleSkipsZeroDimensionFrame(t *testing.T) {
	t.Parallel()

	grab := &fakeGrabber{img: image.NewRGBA(image.Rect(0, 0, 0, 0))}
	anal := &fakeAnalyzer{}
	s := newTestSampler(grab, anal, func(types.Insight) { t.Fatal("no insight expected") })

	if s.SampleOnce(context.Background()) {
		t.Fatal("zero-dimension frame produced an insight")
	}
	if anal.calls != 0 {
		t.Fatal("analyzer called for an empty frame")
	}
}

func TestSampleGrabFailureAbsorbed(t *testing.T) {
	t.Parallel()

	grab := &fakeGrabber{err: errors.New("display gone")}
	s := newTestSampler(grab, &fakeAnalyzer{}, func(types.Insight) { t.Fatal("no insight expected") })
	if s.SampleOnce(context.Background()) {
		t.Fatal("failed grab produced an insight")
	}
}
