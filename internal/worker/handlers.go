package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"forllm/internal/contextwindow"
	"forllm/internal/domain"
	"forllm/internal/history"
	"forllm/internal/persona"
	"forllm/internal/prompt"
	"forllm/internal/settings"
)

// ErrNoTargetPost is returned for reply jobs that name no post.
var ErrNoTargetPost = errors.New("worker: job has no post to respond to")

// ReplyDeps are the collaborators of the reply pipeline. Every field except
// Logger is required.
type ReplyDeps struct {
	Forum     domain.ForumStore
	Requests  domain.RequestStore
	Personas  *persona.Resolver
	Settings  *settings.Reader
	Windows   *contextwindow.Resolver
	Retriever *history.Retriever
	Pruner    *history.Pruner
	Assembler *prompt.Assembler
	// Client answers the prompt. In production it is the breaker, so a
	// transport failure still yields a stub answer.
	Client       domain.ModelClient
	DefaultModel string
	Logger       *zap.Logger
}

// ReplyHandler answers respond_to_post and respond_to_post_tag jobs.
type ReplyHandler struct {
	d ReplyDeps
}

// NewReplyHandler returns a ReplyHandler. It panics on a missing
// collaborator.
func NewReplyHandler(d ReplyDeps) *ReplyHandler {
	switch {
	case d.Forum == nil, d.Requests == nil, d.Personas == nil, d.Settings == nil,
		d.Windows == nil, d.Retriever == nil, d.Pruner == nil, d.Assembler == nil, d.Client == nil:
		panic("worker: reply handler is missing a dependency")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &ReplyHandler{d: d}
}

// Handle implements Handler.
func (h *ReplyHandler) Handle(ctx context.Context, req *domain.LLMRequest, params domain.Params) (Outcome, error) {
	if req.PostID == nil {
		return Outcome{}, ErrNoTargetPost
	}
	post, err := h.d.Forum.GetPost(ctx, *req.PostID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load post %d: %w", *req.PostID, err)
	}

	personaID := req.PersonaID
	if tag, ok := params.(domain.RespondToPostTagParams); ok {
		personaID = &tag.TaggedPersonaID
	}
	p := h.d.Personas.ResolveInTopic(ctx, post.TopicID, personaID)

	model := req.Model
	if model == "" {
		model = h.d.Settings.SelectedModel(ctx, h.d.DefaultModel)
	}
	window, source := h.d.Windows.ResolveWithFallback(ctx, model)

	atts, err := h.d.Forum.ListAttachments(ctx, post.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load attachments of post %d: %w", post.ID, err)
	}
	limits := h.d.Settings.ChatHistory(ctx)
	rawPrimary, rawAmbient, err := h.d.Retriever.RawHistory(ctx, post.ID, post.TopicID, limits)
	if err != nil {
		return Outcome{}, err
	}

	sections := prompt.Sections{
		Attachments:         prompt.FormatAttachments(atts),
		PersonaInstructions: p.Instructions,
	}
	available := h.d.Assembler.AvailableForHistory(window, sections)
	pruned := h.d.Pruner.Prune(rawPrimary, rawAmbient, available, limits.PrimaryBudgetRatio,
		history.PrimaryHeader, history.AmbientHeader)
	sections.Ambient = pruned.AmbientWithHeader
	sections.Primary = pruned.PrimaryWithHeader

	assembled, err := h.d.Assembler.Assemble(sections, window)
	if err != nil {
		return Outcome{}, err
	}
	if err := h.d.Requests.SavePrompt(ctx, req.ID, assembled.Text, assembled.Breakdown); err != nil {
		return Outcome{}, fmt.Errorf("save prompt: %w", err)
	}
	h.d.Logger.Debug("prompt assembled",
		zap.Int64("request_id", req.ID),
		zap.String("model", model),
		zap.Int("context_window", window),
		zap.String("window_source", string(source)),
		zap.Int("tokens", assembled.Breakdown.Total),
		zap.Int("max_allowed", assembled.Breakdown.MaxAllowed))

	answer, err := h.d.Client.Generate(ctx, model, assembled.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("model %s: %w", model, err)
	}

	parent := post.ID
	personaRef := p.ID
	reply := &domain.Post{
		TopicID:       post.TopicID,
		UserID:        post.UserID,
		ParentPostID:  &parent,
		Content:       answer,
		IsLLMResponse: true,
		LLMModelID:    model,
		LLMPersonaID:  &personaRef,
	}
	id, err := h.d.Forum.CreatePost(ctx, reply)
	if err != nil {
		return Outcome{}, fmt.Errorf("store reply: %w", err)
	}
	return Outcome{ResultID: &id, PostID: &id}, nil
}

// PersonaHandler answers generate_persona jobs.
type PersonaHandler struct {
	generator    *persona.Generator
	personas     domain.PersonaStore
	settings     *settings.Reader
	defaultModel string
	logger       *zap.Logger
}

// NewPersonaHandler returns a PersonaHandler. The generation model is the
// job's own, then the job row's, then the selected model, then
// defaultModel.
func NewPersonaHandler(gen *persona.Generator, personas domain.PersonaStore, reader *settings.Reader, defaultModel string, logger *zap.Logger) *PersonaHandler {
	if gen == nil || personas == nil || reader == nil {
		panic("worker: persona handler is missing a dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersonaHandler{generator: gen, personas: personas, settings: reader, defaultModel: defaultModel, logger: logger}
}

// Handle implements Handler.
func (h *PersonaHandler) Handle(ctx context.Context, req *domain.LLMRequest, params domain.Params) (Outcome, error) {
	p, ok := params.(domain.GeneratePersonaParams)
	if !ok {
		return Outcome{}, fmt.Errorf("worker: unexpected params %T for %s", params, req.Type)
	}
	if p.ModelForGeneration == "" {
		p.ModelForGeneration = req.Model
	}
	if p.ModelForGeneration == "" {
		p.ModelForGeneration = h.settings.SelectedModel(ctx, h.defaultModel)
	}

	res, err := h.generator.Generate(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	id, err := h.personas.CreatePersona(ctx, res.Name, res.Instructions)
	if err != nil {
		return Outcome{}, fmt.Errorf("store persona %q: %w", res.Name, err)
	}
	h.logger.Info("persona stored", zap.Int64("persona_id", id), zap.String("name", res.Name))
	return Outcome{ResultID: &id}, nil
}

var (
	_ Handler = (*ReplyHandler)(nil)
	_ Handler = (*PersonaHandler)(nil)
)
