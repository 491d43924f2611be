package visitdoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/domain/severity"
	"github.com/nidaan/triage/internal/platform/blobstore"
	"github.com/nidaan/triage/internal/platform/textgen"
	"github.com/nidaan/triage/internal/platform/websocket"
)

// Broadcaster fans messages out to a group. *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(group string, msg interface{})
}

// Pipeline turns an attached recording into a transcript, a structured
// note, a differential and a risk level. Every step moves the visit one
// state forward; any error moves it to FAILED.
type Pipeline struct {
	visits      VisitRepository
	blobs       blobstore.BlobStore
	transcriber Transcriber
	gen         textgen.Generator
	classifier  *severity.Classifier
	hub         Broadcaster
	logger      zerolog.Logger
	now         func() time.Time
}

func NewPipeline(visits VisitRepository, blobs blobstore.BlobStore, transcriber Transcriber, gen textgen.Generator, classifier *severity.Classifier, hub Broadcaster, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		visits:      visits,
		blobs:       blobs,
		transcriber: transcriber,
		gen:         gen,
		classifier:  classifier,
		hub:         hub,
		logger:      logger.With().Str("component", "documentation").Logger(),
		now:         time.Now,
	}
}

type analysis struct {
	translated   string
	complaint    string
	note         Note
	differential []Diagnosis
	assessment   severity.Assessment
}

// Process runs the visit from PROCESSING to a terminal state. A visit that
// already finished is left alone.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	v, changed, err := p.advance(ctx, id, StateTranscribing, nil)
	if err != nil {
		p.fail(ctx, id, err)
		return err
	}
	if !changed {
		return nil
	}
	p.emitStatus(v)

	transcript, err := p.transcribe(ctx, v)
	if err != nil {
		p.fail(ctx, id, err)
		return err
	}
	p.storeTranscript(ctx, v, transcript)

	v, changed, err = p.advance(ctx, id, StateAnalyzing, func(v *Visit) { v.Transcript = transcript })
	if err != nil {
		p.fail(ctx, id, err)
		return err
	}
	if !changed {
		return nil
	}
	p.emitStatus(v)

	res, err := p.analyze(ctx, v)
	if err != nil {
		p.fail(ctx, id, err)
		return err
	}

	v, changed, err = p.advance(ctx, id, StateCompleted, func(v *Visit) {
		v.TranslatedText = res.translated
		v.ChiefComplaint = res.complaint
		v.Note = &res.note
		v.Differential = res.differential
		v.Severity = &res.assessment
		v.RiskLevel = RiskLevel(res.assessment.Tier)
		if v.ProcessingStartedAt != nil {
			v.ProcessingSeconds = math.Round(p.now().Sub(*v.ProcessingStartedAt).Seconds()*100) / 100
		}
	})
	if err != nil {
		p.fail(ctx, id, err)
		return err
	}
	if !changed {
		return nil
	}
	p.emitStatus(v)
	if res.assessment.HasRedFlags() {
		p.emit(v.ClinicID, websocket.NewAlert(v.ID, res.assessment.Tier.String(), map[string]interface{}{
			"patient_id":      v.PatientRef,
			"red_flags":       res.assessment.RedFlags,
			"risk_level":      v.RiskLevel,
			"chief_complaint": v.ChiefComplaint,
		}))
	}
	p.logger.Info().
		Str("visit_id", v.ID).
		Str("risk_level", v.RiskLevel).
		Float64("seconds", v.ProcessingSeconds).
		Msg("visit documented")
	return nil
}

// advance applies the transition and, when it took effect, apply.
func (p *Pipeline) advance(ctx context.Context, id string, to State, apply func(*Visit)) (*Visit, bool, error) {
	var changed bool
	v, err := p.visits.Mutate(ctx, id, func(v *Visit) error {
		ok, err := v.Advance(to, p.now().UTC())
		if err != nil {
			return err
		}
		changed = ok
		if ok && apply != nil {
			apply(v)
		}
		return nil
	})
	return v, changed, err
}

// fail records cause on the visit. It runs detached from ctx so a timed out
// job still lands in FAILED.
func (p *Pipeline) fail(ctx context.Context, id string, cause error) *Visit {
	ctx = context.WithoutCancel(ctx)
	v, changed, err := p.advance(ctx, id, StateFailed, func(v *Visit) { v.ErrorMessage = cause.Error() })
	if err != nil {
		p.logger.Error().Err(err).Str("visit_id", id).Msg("failed to record visit failure")
		return nil
	}
	if changed {
		p.logger.Warn().Err(cause).Str("visit_id", id).Msg("visit processing failed")
		msg := websocket.NewStatus(v.ID, string(v.Status), Progress[v.Status])
		msg.Status = "failed"
		msg.Message = v.ErrorMessage
		p.emit(v.ClinicID, msg)
	}
	return v
}

func (p *Pipeline) transcribe(ctx context.Context, v *Visit) (string, error) {
	rc, meta, err := p.blobs.Get(ctx, v.AudioRef)
	if err != nil {
		return "", fmt.Errorf("load recording: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read recording: %w", err)
	}

	if blobstore.NormalizeContentType(meta.ContentType) == "text/plain" {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", ErrEmptyTranscript
		}
		return text, nil
	}
	text, err := p.transcriber.Transcribe(ctx, data, meta.ContentType, v.Language)
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return text, nil
}

func (p *Pipeline) storeTranscript(ctx context.Context, v *Visit, transcript string) {
	_, err := p.blobs.Put(ctx, blobstore.BlobMetadata{
		OwnerID:     v.PatientRef,
		ClinicID:    v.ClinicID,
		FileName:    v.ID + ".txt",
		ContentType: "text/plain",
		Category:    blobstore.CategoryTranscript,
	}, bytes.NewReader([]byte(transcript)))
	if err != nil {
		p.logger.Warn().Err(err).Str("visit_id", v.ID).Msg("failed to archive transcript")
	}
}

func (p *Pipeline) analyze(ctx context.Context, v *Visit) (*analysis, error) {
	res := &analysis{translated: v.Transcript}
	if !strings.HasPrefix(strings.ToLower(v.Language), "en") {
		out, err := p.gen.Generate(ctx, textgen.Request{
			Kind:      textgen.KindTranslation,
			Prompt:    translationPrompt(v.Transcript, v.Language),
			MaxTokens: 1024,
			Source:    v.Transcript,
		})
		if err != nil {
			return nil, fmt.Errorf("translation: %w", err)
		}
		res.translated = strings.TrimSpace(out)
	}

	age, gender := v.PatientAge, v.PatientGender
	if age <= 0 {
		age = defaultAge
	}
	if gender == "" {
		gender = defaultGender
	}

	noteText, err := p.gen.Generate(ctx, textgen.Request{
		Kind:      textgen.KindNote,
		Prompt:    notePrompt(res.translated, age, gender),
		MaxTokens: 2000,
		Source:    res.translated,
	})
	if err != nil {
		return nil, fmt.Errorf("clinical note: %w", err)
	}
	res.note = parseNote(noteText)
	res.complaint = chiefComplaint(res.translated)

	diffText, err := p.gen.Generate(ctx, textgen.Request{
		Kind:      textgen.KindDifferential,
		Prompt:    differentialPrompt(res.translated, res.complaint, age, gender),
		MaxTokens: 1500,
		Source:    res.translated,
	})
	if err != nil {
		return nil, fmt.Errorf("differential: %w", err)
	}
	res.differential, err = parseDifferential(diffText)
	if err != nil {
		p.logger.Warn().Err(err).Str("visit_id", v.ID).Msg("unreadable differential, storing none")
		res.differential = []Diagnosis{}
	}

	texts := []string{v.Transcript}
	if res.translated != v.Transcript {
		texts = append(texts, res.translated)
	}
	res.assessment = p.classifier.Assess(severity.Input{Symptoms: texts})
	return res, nil
}

func (p *Pipeline) emitStatus(v *Visit) {
	p.emit(v.ClinicID, websocket.NewStatus(v.ID, string(v.Status), Progress[v.Status]))
}

func (p *Pipeline) emit(group string, msg interface{}) {
	if p.hub == nil || group == "" {
		return
	}
	p.hub.Broadcast(group, msg)
}
