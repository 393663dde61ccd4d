package execution

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/statement"
	"github.com/ehr/voicedb/internal/platform/hipaa"
)

// Service runs transcripts through the whole pipeline: normalize, extract,
// synthesize, gate, execute. Every call to Execute produces exactly one
// audit record.
type Service struct {
	normalizer *command.Normalizer
	extractor  *command.Extractor
	synth      *statement.Synthesizer
	gate       compliance.Gate
	exec       *Executor
	logger     zerolog.Logger
}

// NewService wires the pipeline stages together.
func NewService(n *command.Normalizer, x *command.Extractor, s *statement.Synthesizer, g compliance.Gate, exec *Executor, logger zerolog.Logger) *Service {
	return &Service{
		normalizer: n,
		extractor:  x,
		synth:      s,
		gate:       g,
		exec:       exec,
		logger:     logger.With().Str("component", "voice-service").Logger(),
	}
}

// Execute processes one request. It never returns nil and never panics;
// internal errors come back as outcome Failed.
func (s *Service) Execute(ctx context.Context, req Request) (res *Result) {
	r := newRun(req)
	defer func() {
		if p := recover(); p != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			s.logger.Error().
				Str("execution_id", r.id.String()).
				Str("panic", fmt.Sprintf("%v", p)).
				Str("stack", string(stack[:n])).
				Msg("panic recovered in voice pipeline")
			res = s.exec.fail(ctx, r, ReasonInternal, fmt.Errorf("panic: %v", p))
		}
	}()

	r.cmd = s.normalizer.Normalize(req.Transcript)
	if err := r.advance(StateParsed); err != nil {
		return s.exec.fail(ctx, r, ReasonInternal, err)
	}
	params := s.extractor.Extract(r.cmd)

	stmt, declined, err := s.synth.Synthesize(r.cmd, params)
	if err != nil {
		return s.exec.fail(ctx, r, ReasonInternal, err)
	}
	if declined != nil {
		return s.exec.decline(ctx, r, declined)
	}
	r.stmt = stmt
	if err := r.advance(StateSynthesized); err != nil {
		return s.exec.fail(ctx, r, ReasonInternal, err)
	}

	return s.exec.execute(ctx, r, s.gate.Evaluate(stmt, req.Caller))
}

// Compilation is the front half of the pipeline for one transcript, with
// PHI parameter values masked.
type Compilation struct {
	Command    *command.ParsedCommand       `json:"command"`
	Parameters []command.ExtractedParameter `json:"parameters"`
	Statement  *statement.Statement         `json:"statement,omitempty"`
	Body       string                       `json:"body,omitempty"`
	Declined   *statement.Declined          `json:"declined,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

// Compile normalizes, extracts and synthesizes without gating or executing.
// Nothing is audited because nothing is decided.
func (s *Service) Compile(transcript string) *Compilation {
	cmd := s.normalizer.Normalize(transcript)
	params := s.extractor.Extract(cmd)
	out := &Compilation{Command: cmd, Parameters: make([]command.ExtractedParameter, len(params))}
	for i, p := range params {
		p.Value = hipaa.RedactValue(string(p.Role), p.Value)
		out.Parameters[i] = p
	}

	stmt, declined, err := s.synth.Synthesize(cmd, params)
	switch {
	case err != nil:
		out.Error = err.Error()
	case declined != nil:
		out.Declined = declined
	default:
		out.Statement = stmt
		out.Body = stmt.Body
	}
	return out
}
