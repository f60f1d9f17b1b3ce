package session

import (
	"time"

	"parley/log"
)

// pipelineMsg carries the outcome of one translate-then-synthesize job back
// to the event loop. Results arrive in completion order, not segment order;
// seq lets the display tag them.
type pipelineMsg struct {
	gen          int
	seq          int
	source       string
	translated   string
	pcm          []byte
	stage        string // set with err: "translate" or "synthesize"
	err          error
	translateDur time.Duration
	synthDur     time.Duration
}

// runPipeline fires one job for a finalized segment. Jobs are independent
// and best-effort: failures are surfaced but never touch session state.
func (c *Controller) runPipeline(gen, seq int, text string) {
	source := c.sess.SourceLang
	target := c.sess.TargetLang
	go func() {
		start := time.Now()
		translated, err := c.deps.Translator.Translate(c.rootCtx, text, source, target)
		if err != nil {
			c.msgs <- pipelineMsg{gen: gen, seq: seq, source: text, stage: "translate", err: err}
			return
		}
		translateDur := time.Since(start)

		start = time.Now()
		pcm, err := c.deps.Synthesizer.Synthesize(c.rootCtx, translated, target)
		if err != nil {
			c.msgs <- pipelineMsg{gen: gen, seq: seq, source: text, translated: translated, stage: "synthesize", err: err}
			return
		}

		c.msgs <- pipelineMsg{
			gen:          gen,
			seq:          seq,
			source:       text,
			translated:   translated,
			pcm:          pcm,
			translateDur: translateDur,
			synthDur:     time.Since(start),
		}
	}()
}

func (c *Controller) handlePipelineResult(m pipelineMsg) {
	if m.gen != c.gen {
		// The session this result belongs to is gone.
		log.Warnf("dropping stale pipeline result for segment #%d", m.seq)
		return
	}
	if m.err != nil {
		log.Errorf("%s failed for segment #%d: %v", m.stage, m.seq, m.err)
		c.deps.Sink.PipelineError(m.seq, m.stage, m.err)
		return
	}

	c.deps.Sink.Translation(m.seq, m.translated)
	log.Utterance(m.seq, m.source, m.translated)
	log.PipelineMetrics(log.PipelineMetricsData{
		Seq:         m.seq,
		TranslateMs: float64(m.translateDur.Milliseconds()),
		SynthMs:     float64(m.synthDur.Milliseconds()),
		AudioKB:     float64(len(m.pcm)) / 1024,
		TextChars:   len(m.source),
	})

	if c.deps.Player != nil && len(m.pcm) > 0 {
		pcm := m.pcm
		go c.deps.Player.Play(pcm)
	}
}
