package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/centinela-ai/centinela/internal/llm"
	"github.com/centinela-ai/centinela/internal/model"
	"github.com/centinela-ai/centinela/internal/pipeline"
	"github.com/centinela-ai/centinela/internal/prompts"
	"github.com/centinela-ai/centinela/internal/storage"
)

// customerLines are the fixed customer-facing explanations per decision.
var customerLines = map[model.Decision]string{
	model.DecisionApprove:   "La transacción fue aprobada. No se detectaron señales relevantes.",
	model.DecisionChallenge: "La transacción requiere validación adicional por señales inusuales detectadas.",
	model.DecisionBlock:     "La transacción fue bloqueada por alta probabilidad de fraude según señales y evidencias.",
	model.DecisionEscalate:  "La transacción requiere revisión humana para una validación adicional.",
}

// decisionLabels are the short Spanish labels used in the summary report.
var decisionLabels = map[model.Decision]string{
	model.DecisionApprove:   "Aprobada",
	model.DecisionChallenge: "Requiere validación",
	model.DecisionBlock:     "Bloqueada",
	model.DecisionEscalate:  "Revisión humana",
}

// recommendedActions close the summary report per decision.
var recommendedActions = map[model.Decision]string{
	model.DecisionApprove:   "Continuar sin fricción.",
	model.DecisionChallenge: "Solicitar verificación adicional al cliente.",
	model.DecisionBlock:     "Mantener el bloqueo y notificar al cliente.",
	model.DecisionEscalate:  "Asignar a un analista para revisión manual.",
}

// pathLabels map audit agent names to the step labels of the agent route.
var pathLabels = map[string]string{
	"TransactionContext":  "Context",
	"BehavioralPattern":   "Behavior",
	"PolicyRAG":           "RAG",
	"ThreatIntel":         "Web",
	"EvidenceAggregation": "Evidence",
	"DebateProFraud":      "Debate",
	"DebateProCustomer":   "Debate",
	"Arbiter":             "Decisión",
	"Explainability":      "Explicación",
}

// debateExcerptLen caps how much of each debate argument the summary quotes.
const debateExcerptLen = 150

// ExplainStage writes the customer explanation, the audit explanation, and
// the Markdown summary report. It reads the audit trail written so far to
// reconstruct the agent route. With a reasoner configured, the customer and
// audit texts are drafted by the model; any failure falls back to the fixed
// templates so the stage stays deterministic offline.
type ExplainStage struct {
	audit     storage.AuditSink
	reasoner  llm.ChatProvider
	catalogue *prompts.Catalogue
	logger    *slog.Logger
}

// NewExplainStage creates the stage. reasoner may be nil.
func NewExplainStage(audit storage.AuditSink, reasoner llm.ChatProvider, catalogue *prompts.Catalogue, logger *slog.Logger) *ExplainStage {
	return &ExplainStage{audit: audit, reasoner: reasoner, catalogue: catalogue, logger: logger}
}

func (*ExplainStage) Name() string { return "Explainability" }

func (s *ExplainStage) Run(ctx context.Context, state *pipeline.EvalState) error {
	path, err := s.agentPath(ctx, state.Transaction.TransactionID)
	if err != nil {
		return err
	}
	state.ExplanationCustomer = s.draft(ctx, prompts.ExplainCustomer, state, path, customerLines[state.Decision])
	state.ExplanationAudit = s.draft(ctx, prompts.ExplainAudit, state, path, auditLine(state, path))
	state.AISummary = summaryReport(state, path)
	return nil
}

// draft asks the reasoner to write the named explanation and falls back to
// the fixed text on any failure or an empty reply.
func (s *ExplainStage) draft(ctx context.Context, promptName string, state *pipeline.EvalState, path, fallback string) string {
	if s.reasoner == nil {
		return fallback
	}

	signals := "ninguna"
	if len(state.Signals) > 0 {
		signals = strings.Join(state.Signals, "; ")
	}
	policies := "ninguna"
	if ids := policyIDs(state.CitationsInternal); len(ids) > 0 {
		policies = strings.Join(ids, ", ")
	}
	prompt, err := s.catalogue.Render(promptName, map[string]string{
		"transaction_id": state.Transaction.TransactionID,
		"decision":       string(state.Decision),
		"signals":        signals,
		"policies":       policies,
		"path":           path,
	})
	if err != nil {
		s.logger.Warn("agents: render explanation prompt, using template", "prompt", promptName, "error", err)
		return fallback
	}

	reply, err := s.reasoner.Chat(ctx, "Responde únicamente con el texto solicitado, sin formato adicional.", prompt)
	if err != nil {
		s.logger.Warn("agents: explanation model failed, using template", "prompt", promptName, "error", err)
		return fallback
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return fallback
	}
	return reply
}

// agentPath rebuilds the executed route from the audit trail. Error events
// and agents without a label are skipped; consecutive duplicate labels
// collapse so the two debate stages read as one step. The explanation step
// itself is appended since its event is written after this stage runs.
func (s *ExplainStage) agentPath(ctx context.Context, transactionID string) (string, error) {
	events, err := s.audit.ListEvents(ctx, transactionID)
	if err != nil {
		return "", fmt.Errorf("agents: load audit trail: %w", err)
	}

	var steps []string
	for _, ev := range events {
		if strings.HasSuffix(ev.Agent, "_error") {
			continue
		}
		label, ok := pathLabels[ev.Agent]
		if !ok {
			continue
		}
		if len(steps) > 0 && steps[len(steps)-1] == label {
			continue
		}
		steps = append(steps, label)
	}
	if len(steps) == 0 || steps[len(steps)-1] != "Explicación" {
		steps = append(steps, "Explicación")
	}
	return strings.Join(steps, " → "), nil
}

// auditLine renders the one-paragraph audit explanation.
func auditLine(state *pipeline.EvalState, path string) string {
	var parts []string
	if ids := policyIDs(state.CitationsInternal); len(ids) > 0 {
		parts = append(parts, "Se aplicó la política "+strings.Join(ids, ", "))
	}
	if state.HasSignal(SignalExternalAlert) {
		parts = append(parts, "se detectó alerta externa")
	}
	parts = append(parts, "Ruta de agentes: "+path)
	return strings.Join(parts, ". ") + "."
}

// policyIDs returns the distinct policy IDs cited, in citation order.
func policyIDs(citations []model.CitationInternal) []string {
	seen := map[string]bool{}
	var ids []string
	for _, c := range citations {
		if c.PolicyID == "" || seen[c.PolicyID] {
			continue
		}
		seen[c.PolicyID] = true
		ids = append(ids, c.PolicyID)
	}
	return ids
}

// summaryReport renders the six-section Markdown report for analysts.
func summaryReport(state *pipeline.EvalState, path string) string {
	var b strings.Builder
	b.WriteString("## Resumen de evaluación\n\n")

	confidence := 0.0
	if state.Confidence != nil {
		confidence = *state.Confidence
	}
	fmt.Fprintf(&b, "**1. Decisión:** %s (riesgo estimado: %.0f%%)\n\n",
		decisionLabels[state.Decision], confidence*100)

	b.WriteString("**2. Señales detectadas:** ")
	if len(state.Signals) == 0 {
		b.WriteString("Ninguna")
	} else {
		b.WriteString(strings.Join(state.Signals, "; "))
	}
	b.WriteString("\n\n")

	b.WriteString("**3. Políticas internas (RAG):** ")
	if len(state.CitationsInternal) == 0 {
		b.WriteString("Sin políticas aplicables")
	} else {
		var refs []string
		for _, c := range state.CitationsInternal {
			refs = append(refs, fmt.Sprintf("%s (%s, fragmento %s)", c.PolicyID, c.Version, c.ChunkID))
		}
		b.WriteString(strings.Join(refs, "; "))
	}
	b.WriteString("\n\n")

	b.WriteString("**4. Inteligencia externa:** ")
	if len(state.CitationsExternal) == 0 {
		b.WriteString("Sin alertas externas.")
	} else {
		var refs []string
		for _, c := range state.CitationsExternal {
			refs = append(refs, fmt.Sprintf("%s (%s)", c.Summary, c.URL))
		}
		b.WriteString(strings.Join(refs, "; "))
	}
	b.WriteString("\n\n")

	b.WriteString("**5. Debate interno:** ")
	var debate []string
	if state.Metrics.ProFraud != nil {
		debate = append(debate, "Pro-fraude: "+truncate(state.Metrics.ProFraud.Reasoning, debateExcerptLen))
	}
	if state.Metrics.ProCustomer != nil {
		debate = append(debate, "Pro-cliente: "+truncate(state.Metrics.ProCustomer.Reasoning, debateExcerptLen))
	}
	if len(debate) == 0 {
		b.WriteString("No disponible")
	} else {
		b.WriteString(strings.Join(debate, " "))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "**6. Trazabilidad:** Ruta: %s. Acción recomendada: %s\n",
		path, recommendedActions[state.Decision])
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
