package stt

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
	Language     string
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	// Twilio dual-channel call recordings: 8kHz MP3
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_MP3,
		SampleRateHz: 8000,
		Language:     "en-US",
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte) (string, float64, error) {
	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			LanguageCode:               g.Language,
			EnableAutomaticPunctuation: true,
			AudioChannelCount:          2,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	var text string
	var conf float64
	for _, r := range resp.Results {
		for _, alt := range r.Alternatives {
			if alt.Transcript == "" {
				continue
			}
			if text != "" {
				text += " "
			}
			text += alt.Transcript
			if float64(alt.Confidence) > conf {
				conf = float64(alt.Confidence)
			}
			break
		}
	}

	return text, conf, nil
}
