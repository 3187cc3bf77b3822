package gemini

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
)

// DialGenAI connects to the Gemini Live API. Automatic activity detection is
// disabled: turn boundaries come from the pipeline's own turn detection.
func DialGenAI(ctx context.Context, cfg Config) (LiveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}

	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		},
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		lc.Temperature = &temp
	}

	sess, err := client.Live.Connect(ctx, cfg.Model, lc)
	if err != nil {
		return nil, fmt.Errorf("gemini: live connect: %w", err)
	}
	return &genaiSession{s: sess}, nil
}

type genaiSession struct {
	s *genai.Session
}

func (g *genaiSession) SendAudio(pcm []byte, sampleRate int) error {
	return g.s.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate)},
	})
}

func (g *genaiSession) SendTurns(turns []Turn, turnComplete bool) error {
	complete := turnComplete
	return g.s.SendClientContent(genai.LiveClientContentInput{Turns: turnContents(turns), TurnComplete: &complete})
}

// turnContents maps context turns to Live client content. Assistant turns
// are sent as the model role.
func turnContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

func (g *genaiSession) ActivityStart() error {
	return g.s.SendRealtimeInput(genai.LiveRealtimeInput{ActivityStart: &genai.ActivityStart{}})
}

func (g *genaiSession) ActivityEnd() error {
	return g.s.SendRealtimeInput(genai.LiveRealtimeInput{ActivityEnd: &genai.ActivityEnd{}})
}

func (g *genaiSession) Receive() (*ServerEvent, error) {
	msg, err := g.s.Receive()
	if err != nil {
		return nil, err
	}
	ev := &ServerEvent{}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
					continue
				}
				ev.Audio = append(ev.Audio, p.InlineData.Data...)
				ev.AudioSampleRate = sampleRateFromMIME(p.InlineData.MIMEType)
			}
		}
		if sc.InputTranscription != nil {
			ev.InputTranscription = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			ev.OutputTranscription = sc.OutputTranscription.Text
		}
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
	}
	if u := msg.UsageMetadata; u != nil {
		ev.Usage = &Usage{
			PromptTokens:   int(u.PromptTokenCount),
			ResponseTokens: int(u.ResponseTokenCount),
			TotalTokens:    int(u.TotalTokenCount),
		}
	}
	return ev, nil
}

func (g *genaiSession) Close() error { return g.s.Close() }

// sampleRateFromMIME reads the rate parameter of e.g. "audio/pcm;rate=24000".
func sampleRateFromMIME(mime string) int {
	for _, part := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == "rate" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return OutputSampleRate
}
