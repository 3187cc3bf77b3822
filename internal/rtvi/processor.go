package rtvi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
)

// EventClientReady fires when the client sends client-ready. Data is the
// message id.
const EventClientReady = "on_client_ready"

// Processor is the "rtvi" stage. It consumes RTVI client messages arriving
// from the input transport and sends server messages to the client.
type Processor struct {
	*pipeline.BaseProcessor
	pipeline.Events

	mu          sync.Mutex
	ctx         context.Context
	clientReady bool
	botReady    bool
}

func NewProcessor() *Processor {
	p := &Processor{BaseProcessor: pipeline.NewBaseProcessor("rtvi"), ctx: context.Background()}
	p.RegisterEvent(EventClientReady)
	return p
}

func (p *Processor) ClientReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientReady
}

func (p *Processor) BotReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.botReady
}

func (p *Processor) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	switch fr := f.(type) {
	case *frames.StartFrame:
		p.mu.Lock()
		p.ctx = ctx
		p.mu.Unlock()
	case *frames.InputTransportMessageFrame:
		var m clientMessage
		if err := json.Unmarshal(fr.Data, &m); err != nil || m.Label != Label {
			// not ours
			return p.PushFrame(ctx, f, dir)
		}
		return p.handleMessage(ctx, m)
	}
	return p.PushFrame(ctx, f, dir)
}

func (p *Processor) handleMessage(ctx context.Context, m clientMessage) error {
	log.Debug("rtvi client message", "type", m.Type, "id", m.ID)
	switch m.Type {
	case TypeClientReady:
		p.mu.Lock()
		p.clientReady = true
		p.mu.Unlock()
		p.CallEventHandler(ctx, EventClientReady, p, m.ID)
		return nil
	case TypeDisconnectBot:
		return p.PushFrame(ctx, &frames.EndTaskFrame{}, pipeline.Upstream)
	default:
		msg := NewMessage(TypeErrorResponse, ErrorData{Error: fmt.Sprintf("unsupported message type %q", m.Type)})
		msg.ID = m.ID
		return p.PushMessage(ctx, msg)
	}
}

// SetBotReady tells the client the bot is ready.
func (p *Processor) SetBotReady(ctx context.Context) error {
	p.mu.Lock()
	p.botReady = true
	p.mu.Unlock()
	return p.PushMessage(ctx, NewMessage(TypeBotReady, BotReadyData{Version: ProtocolVersion}))
}

// PushMessage sends m to the client through the output transport.
func (p *Processor) PushMessage(ctx context.Context, m Message) error {
	return p.PushFrame(ctx, &frames.TransportMessageFrame{Message: m}, pipeline.Downstream)
}

func (p *Processor) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}
