package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/claimwise/voicepipe/internal/models"
	"github.com/claimwise/voicepipe/internal/providers/crm"
	"github.com/claimwise/voicepipe/internal/providers/genai"
	"github.com/claimwise/voicepipe/internal/providers/stt"
	"github.com/claimwise/voicepipe/internal/providers/voice"
	pgrepo "github.com/claimwise/voicepipe/internal/repositories/postgres"
)

// CallServiceConfig is consumed once at construction.
type CallServiceConfig struct {
	EnableCRMWrite        bool
	PollInterval          time.Duration
	MaxPollingDuration    time.Duration
	RecordingPollAttempts int
	RecordingPollInterval time.Duration
}

const claimExtractionPrompt = `You are reviewing a recorded phone call between an AI assistant and an insurance company representative about a property claim.
Extract the call outcome, the current claim status, payment details if a payment was discussed, and any actions or documents the insurance company requires.
Summarize the call in two or three sentences a claims coordinator can act on.`

// CallService turns one call-creation request into a long-running background
// pipeline: poll the voice platform to a terminal status, analyze the
// recording, persist the lifecycle, write a note back to the CRM.
type CallService struct {
	voice    voice.Provider
	ai       genai.Provider
	crm      crm.Service
	stt      stt.Transcriber
	sessions pgrepo.SessionFactory
	cfg      CallServiceConfig
	log      *logrus.Logger

	// test seams; defaulted to the real clock
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCallService(v voice.Provider, ai genai.Provider, c crm.Service, tr stt.Transcriber, sessions pgrepo.SessionFactory, cfg CallServiceConfig, log *logrus.Logger) *CallService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxPollingDuration <= 0 {
		cfg.MaxPollingDuration = 24 * time.Hour
	}
	if cfg.RecordingPollAttempts <= 0 {
		cfg.RecordingPollAttempts = 10
	}
	if cfg.RecordingPollInterval <= 0 {
		cfg.RecordingPollInterval = 3 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CallService{
		voice:    v,
		ai:       ai,
		crm:      c,
		stt:      tr,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Shutdown cancels every in-flight monitor and waits for them to unwind.
// Partially completed side effects are not compensated.
func (s *CallService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// CallAndWriteResultsToCRM places the call and returns the provider's
// response synchronously. Monitoring runs detached: record creation is
// best-effort, and nothing after provider creation can fail the caller.
func (s *CallService) CallAndWriteResultsToCRM(ctx context.Context, req models.CallRequest, userID string) (*models.CallResponse, error) {
	resp, err := s.voice.CreateOutboundCall(ctx, req)
	if err != nil {
		// pure pass-through: no persistence, no monitoring
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"call_id": resp.CallID,
		"user_id": userID,
		"job_id":  req.JobID,
	})

	// Best-effort insert on a request-scoped session. Commit explicitly so
	// the independently-sessioned monitor can never observe an uncommitted
	// row. The call already exists provider-side either way.
	session := s.sessions.NewSession()
	rec := &models.CallRecord{
		CallID:       resp.CallID,
		UserID:       userID,
		JobID:        req.JobID,
		Status:       resp.Status,
		Provider:     resp.Provider,
		PhoneNumber:  req.PhoneNumber,
		StartedAt:    resp.CreatedAt,
		ProviderData: datatypes.JSON(resp.ProviderData),
	}
	if resp.ListenURL != "" {
		rec.ListenURL = &resp.ListenURL
	}
	if err := session.CreateCall(ctx, rec); err != nil {
		log.WithError(err).Error("failed to persist call record; monitoring continues")
		_ = session.Rollback()
	} else if err := session.Commit(); err != nil {
		log.WithError(err).Error("failed to commit call record; monitoring continues")
		_ = session.Rollback()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorAndUpdateCRM(s.baseCtx, resp.CallID, req, userID)
	}()

	return resp, nil
}

// monitorAndUpdateCRM owns the whole post-creation lifecycle of one call. It
// runs on its own persistence session; the request session is gone by the
// time this is scheduled.
func (s *CallService) monitorAndUpdateCRM(ctx context.Context, callID string, req models.CallRequest, userID string) {
	log := s.log.WithFields(logrus.Fields{
		"call_id": callID,
		"user_id": userID,
	})

	session := s.sessions.NewSession()
	defer func() { _ = session.Rollback() }()

	deadline := s.now().Add(s.cfg.MaxPollingDuration)

	for {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Info("call monitoring cancelled")
			return
		}
		if s.now().After(deadline) {
			log.Warn("max polling duration exceeded; abandoning call monitoring")
			return
		}

		resp, err := s.voice.GetCallStatus(ctx, callID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("call monitoring cancelled during status poll")
				return
			}
			log.WithError(err).Error("failed to poll call status; stopping monitor")
			return
		}

		if !resp.Status.IsTerminal() {
			if err := session.UpdateCallStatus(ctx, callID, resp.Status, datatypes.JSON(resp.ProviderData)); err != nil {
				log.WithError(err).Warn("failed to persist call status")
				_ = session.Rollback()
			} else if err := session.Commit(); err != nil {
				log.WithError(err).Warn("failed to commit call status")
				_ = session.Rollback()
			}

			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				log.Info("call monitoring cancelled during poll sleep")
				return
			}
			continue
		}

		// Terminal. Commit the status first so no reader ever sees analysis
		// results on a call that still looks live.
		log.WithField("status", resp.Status).Info("call reached terminal status")
		if err := session.UpdateCallStatus(ctx, callID, resp.Status, datatypes.JSON(resp.ProviderData)); err != nil {
			log.WithError(err).Error("failed to persist terminal status")
			_ = session.Rollback()
		} else if err := session.Commit(); err != nil {
			log.WithError(err).Error("failed to commit terminal status")
			_ = session.Rollback()
		}

		if err := s.generateStructuredDataFromCall(ctx, callID, resp, session); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("call monitoring cancelled during recording analysis")
				return
			}
			log.WithError(err).Error("recording analysis failed; continuing without analysis")
		}

		endedAt := s.now().UTC()
		if resp.EndedAt != nil {
			endedAt = *resp.EndedAt
		}
		var analysisJSON datatypes.JSON
		if resp.Analysis != nil {
			if b, err := json.Marshal(resp.Analysis); err == nil {
				analysisJSON = b
			}
		}
		if err := session.EndCall(ctx, callID, resp.Status, endedAt, datatypes.JSON(resp.ProviderData), analysisJSON, resp.Transcript); err != nil {
			log.WithError(err).Error("failed to persist final call record")
			_ = session.Rollback()
		} else if err := session.Commit(); err != nil {
			log.WithError(err).Error("failed to commit final call record")
			_ = session.Rollback()
		}

		if s.cfg.EnableCRMWrite {
			s.updateCRMWithCallResults(ctx, callID, resp, req)
		} else {
			log.Info("crm write disabled; skipping note")
		}
		return
	}
}

// generateStructuredDataFromCall downloads the recording, runs generative
// extraction, and mutates resp.Analysis in place. Twilio is the only provider
// whose structured data arrives this way; for everyone else this is a no-op.
// Both the temp file and the uploaded remote file are deleted on every exit
// path, each guarded independently.
func (s *CallService) generateStructuredDataFromCall(ctx context.Context, callID string, resp *models.CallResponse, session pgrepo.CallRepository) error {
	if resp.Provider != models.ProviderTwilio {
		s.log.WithField("call_id", callID).Debug("provider delivers structured data at call time; skipping extraction")
		return nil
	}

	log := s.log.WithField("call_id", callID)

	recordingURL, err := s.waitForRecordingURL(ctx, callID, session)
	if err != nil {
		return err
	}
	if recordingURL == "" {
		log.Warn("recording url never became available; skipping analysis")
		return nil
	}

	audio, contentType, err := s.voice.DownloadRecording(ctx, recordingURL)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "call-recording-*"+extensionForMIME(contentType))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("failed to delete temp recording file")
		}
	}()
	if _, err := tmp.Write(audio); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if resp.Transcript == "" && s.stt != nil {
		text, conf, err := s.stt.Transcribe(ctx, audio)
		if err != nil {
			log.WithError(err).Warn("transcript fallback failed")
		} else if text != "" {
			log.WithField("confidence", conf).Debug("transcript recovered from recording")
			resp.Transcript = text
		}
	}

	remote, err := s.ai.UploadFile(ctx, tmpPath, normalizeAudioMIME(contentType))
	if err != nil {
		return err
	}
	defer func() {
		// fresh context: cancellation of the monitor must not leak the upload
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.ai.DeleteFile(cleanupCtx, remote.ID); err != nil {
			log.WithError(err).Warn("failed to delete uploaded recording")
		}
	}()

	analysis, err := s.ai.GenerateStructuredContent(ctx, claimExtractionPrompt, []genai.RemoteFile{*remote})
	if err != nil {
		return err
	}

	resp.Analysis = analysis
	return nil
}

// waitForRecordingURL polls the database, not the provider: the webhook
// pipeline writes recording_url from another session, so the cache entry is
// expired before every read.
func (s *CallService) waitForRecordingURL(ctx context.Context, callID string, session pgrepo.CallRepository) (string, error) {
	for attempt := 0; attempt < s.cfg.RecordingPollAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.cfg.RecordingPollInterval); err != nil {
				return "", err
			}
		}
		if err := session.ExpireAll(ctx); err != nil {
			s.log.WithError(err).Debug("cache invalidation failed before recording poll")
		}
		rec, err := session.GetCallByCallID(ctx, callID)
		if err != nil {
			s.log.WithError(err).WithField("call_id", callID).Debug("recording poll read failed")
			continue
		}
		if rec.RecordingURL != nil && *rec.RecordingURL != "" {
			return *rec.RecordingURL, nil
		}
	}
	return "", nil
}

func (s *CallService) updateCRMWithCallResults(ctx context.Context, callID string, resp *models.CallResponse, req models.CallRequest) {
	log := s.log.WithFields(logrus.Fields{
		"call_id": callID,
		"job_id":  req.JobID,
	})

	if resp.Analysis == nil {
		log.Info("no analysis available; skipping crm note")
		return
	}
	if resp.Analysis.StructuredData == nil {
		log.Info("no structured data in analysis; skipping crm note")
		return
	}
	if req.JobID == "" {
		log.Info("no job id on request; skipping crm note")
		return
	}

	note := FormatCRMNote(resp.Analysis)
	if _, err := s.crm.AddNote(ctx, req.JobID, "job", note, true); err != nil {
		log.WithError(err).Error("failed to write crm note")
		return
	}
	log.Info("crm note written")
}

func extensionForMIME(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	case strings.Contains(contentType, "flac"):
		return ".flac"
	default:
		return ".mp3"
	}
}

func normalizeAudioMIME(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || !strings.HasPrefix(contentType, "audio/") {
		return "audio/mpeg"
	}
	return contentType
}
