package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	adkagent "google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/google/uuid"

	"github.com/TDXCORE/Agent-Test/internal/calendar"
	"github.com/TDXCORE/Agent-Test/internal/qualification"
	"github.com/TDXCORE/Agent-Test/platform/ai/openaichat"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

const appName = "lead_qualifier"

// fallbackReply is sent when the model times out or errors so the user is
// never left without an answer.
const fallbackReply = "Lo siento, estoy teniendo problemas técnicos en este momento. ¿Podrías repetir tu último mensaje en un momento?"

// HistoryMessage is one prior turn passed to the model.
type HistoryMessage struct {
	Role    string
	Content string
}

// LeadState is the read-only context injected into the system preamble.
type LeadState struct {
	Stage    qualification.Stage
	FullName string
	Email    string
	Phone    string
	Company  string
}

// Runtime drives one LLM advance per inbound user message.
type Runtime struct {
	model    model.LLM
	slots    SlotProvider
	log      *logger.Logger
	location *time.Location
	timeout  time.Duration
	slotLen  time.Duration
}

// New builds the runtime from LLM config. slots may be nil when the calendar
// integration is disabled; the slots tool then reports no availability.
func New(cfg config.LLMConfig, orch config.OrchestratorConfig, loc *time.Location, slots SlotProvider, log *logger.Logger) *Runtime {
	if slots == nil {
		slots = noSlots{}
	}
	return &Runtime{
		model: openaichat.NewModel(openaichat.Config{
			APIKey:  cfg.GetLLMAPIKey(),
			BaseURL: cfg.GetLLMBaseURL(),
			Model:   cfg.GetLLMModel(),
		}),
		slots:    slots,
		log:      log,
		location: loc,
		timeout:  orch.GetAgentTimeout(),
		slotLen:  orch.GetSlotDuration(),
	}
}

// SetSlotProvider wires availability lookups after construction. The
// orchestrator owns slot filtering but also consumes the runtime, so the
// provider is attached once both exist, before any turn is processed.
func (rt *Runtime) SetSlotProvider(slots SlotProvider) {
	if slots != nil {
		rt.slots = slots
	}
}

type noSlots struct{}

func (noSlots) AvailableSlots(context.Context, time.Time, time.Duration) ([]calendar.Slot, error) {
	return nil, nil
}

// Advance runs one agent turn over the history window and returns the Turn
// for the orchestrator to apply. Deadline overruns and model failures produce
// a fallback Turn instead of an error so a slow LLM never loses the dialogue.
func (rt *Runtime) Advance(ctx context.Context, history []HistoryMessage, lead LeadState, allowed []string) (*Turn, error) {
	started := time.Now()

	timeout := rt.timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec := &recorder{}
	tools, err := rt.buildTools(rec, allowed, rt.slotLen)
	if err != nil {
		return nil, err
	}

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "LeadQualifier",
		Model:       rt.model,
		Description: "Conversational sales agent that qualifies inbound leads and schedules meetings.",
		Instruction: buildInstruction(lead),
		Tools:       tools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userID := "conversation"
	sessionID := uuid.New().String()
	if _, err := sessionService.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	userMessage := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: renderHistory(history)}},
	}

	var reply strings.Builder
	var runErr error
	for event, err := range r.Run(ctx, userID, sessionID, userMessage, adkagent.RunConfig{StreamingMode: adkagent.StreamingModeNone}) {
		if err != nil {
			runErr = err
			break
		}
		if event.Content != nil {
			for _, part := range event.Content.Parts {
				reply.WriteString(part.Text)
			}
		}
	}

	if runErr != nil {
		if !errors.Is(runErr, context.DeadlineExceeded) && !errors.Is(runErr, context.Canceled) {
			rt.log.ProviderError("llm", "agent.advance", runErr)
		}
		return &Turn{AssistantText: fallbackReply, Fallback: true}, nil
	}

	turn := &Turn{
		AssistantText: strings.TrimSpace(reply.String()),
		Invocations:   rec.snapshot(),
	}
	if turn.AssistantText == "" && len(turn.Invocations) == 0 {
		turn.AssistantText = fallbackReply
		turn.Fallback = true
	}
	rt.log.AgentTurn(sessionID, len(turn.Invocations), string(lead.Stage), float64(time.Since(started).Milliseconds()))
	return turn, nil
}

// renderHistory flattens the bounded window into a single user content block.
// The most recent user message comes last so the model answers it.
func renderHistory(history []HistoryMessage) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		switch m.Role {
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("\nRespond to the user's last message.")
	return b.String()
}

func buildInstruction(lead LeadState) string {
	var b strings.Builder
	b.WriteString(`Eres un agente comercial de TDX. Conversas por WhatsApp con leads interesados en desarrollo de software.

PROTOCOLO POR ETAPA:
- consent: pide permiso para tratar datos personales. Usa record_consent con la decisión del usuario.
- personal_data: obtén nombre completo y al menos un dato de contacto (email o teléfono). Usa record_personal_data.
- bant: pregunta presupuesto, quién decide, qué necesitan y para cuándo. Usa record_bant con cada respuesta.
- requirements: pregunta tipo de aplicación, funcionalidades e integraciones deseadas. Usa record_requirements.
- meeting: consulta disponibilidad con get_available_slots, propone horarios y agenda con schedule_meeting.

REGLAS:
- Una pregunta a la vez, mensajes cortos, tono cercano y profesional.
- Nunca inventes horarios: consulta get_available_slots antes de proponer.
- Si el usuario no quiere continuar, usa end_conversation con reason "user_declined".
`)

	b.WriteString("\nEstado actual del lead:\n")
	fmt.Fprintf(&b, "- etapa: %s\n", lead.Stage)
	if lead.FullName != "" {
		fmt.Fprintf(&b, "- nombre: %s\n", lead.FullName)
	}
	if lead.Email != "" {
		fmt.Fprintf(&b, "- email: %s\n", lead.Email)
	}
	if lead.Phone != "" {
		fmt.Fprintf(&b, "- teléfono: %s\n", lead.Phone)
	}
	if lead.Company != "" {
		fmt.Fprintf(&b, "- empresa: %s\n", lead.Company)
	}
	return b.String()
}
