package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/claimwise/voicepipe/internal/models"
	mongorepo "github.com/claimwise/voicepipe/internal/repositories/mongo"
	"github.com/claimwise/voicepipe/internal/utils"
)

// CallStore is the slice of call persistence the worker needs: recording
// webhooks set the URL the monitor's database poll is waiting on.
type CallStore interface {
	SetRecordingURL(ctx context.Context, callID, recordingURL string) error
}

// CallEventWorkerPool drains provider webhook payloads off a redis stream,
// archives them, and applies the ones that carry state the monitors consume.
type CallEventWorkerPool struct {
	Redis      *redis.Client
	Events     mongorepo.CallEventRepository
	Calls      CallStore
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *CallEventWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Events == nil || p.Calls == nil {
		return errors.New("CallEventWorkerPool missing dependency: Redis/Events/Calls must be set")
	}
	if p.Stream == "" {
		p.Stream = "callevents:stream"
	}
	if p.Group == "" {
		p.Group = "call-event-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 3
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *CallEventWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *CallEventWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	callID := getStr("call_id")
	eventType := getStr("event_type")
	if callID == "" || eventType == "" {
		return
	}

	var payload map[string]string
	if raw := getStr("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			p.Logger.WithError(err).WithField("redis_id", msg.ID).Warn("undecodable webhook payload")
			return
		}
	}

	p.applyEvent(ctx, &models.CallEvent{
		CallID:    callID,
		EventType: eventType,
		Payload:   payload,
	})
}

func (p *CallEventWorkerPool) applyEvent(ctx context.Context, ev *models.CallEvent) {
	log := p.Logger.WithFields(logrus.Fields{
		"call_id":    ev.CallID,
		"event_type": ev.EventType,
	})

	if err := p.Events.Append(ctx, ev); err != nil {
		log.WithError(err).Warn("failed to archive call event")
	}

	if ev.EventType != "recording" {
		return
	}
	recordingURL := ev.Payload["RecordingUrl"]
	if recordingURL == "" {
		return
	}

	if err := p.Calls.SetRecordingURL(ctx, ev.CallID, recordingURL); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			log.Warn("recording event for unknown call")
			return
		}
		log.WithError(err).Error("failed to set recording url")
		return
	}
	log.Info("recording url recorded")
}
