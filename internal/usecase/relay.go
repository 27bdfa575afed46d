package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"telegram-relay/internal/domain"
)

const (
	DefaultStartCommand = "/start"
	DefaultWelcomeText  = "🤖 Hello! I'm your AI assistant. Ask me anything!"
	DefaultFallbackText = "Sorry, I'm having trouble generating a response right now. Please try again later."
	DefaultApologyText  = "Sorry, something went wrong while handling your message."
)

type ModelClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Stage is a state of the per-update pipeline.
type Stage string

const (
	StageReceived        Stage = "received"
	StageParsed          Stage = "parsed"
	StageUserResolved    Stage = "user_resolved"
	StageSessionResolved Stage = "session_resolved"
	StageContextLoaded   Stage = "context_loaded"
	StageModelResponded  Stage = "model_responded"
	StagePersisted       Stage = "persisted"
	StageReplied         Stage = "replied"
	StageFailed          Stage = "failed"
)

type failurePolicy int

const (
	abortOnFailure failurePolicy = iota
	degradeOnFailure
)

// failurePolicies says what a failed component call entering each stage does
// to the pipeline. Stages not listed abort.
var failurePolicies = map[Stage]failurePolicy{
	StageParsed:          abortOnFailure,
	StageUserResolved:    degradeOnFailure,
	StageSessionResolved: degradeOnFailure,
	StageContextLoaded:   degradeOnFailure,
	StageModelResponded:  degradeOnFailure,
	StagePersisted:       degradeOnFailure,
	StageReplied:         degradeOnFailure,
}

// Outcome reports how far an update got and what degraded on the way.
type Outcome struct {
	Stage        Stage
	Reply        string
	Delivered    bool
	TurnsWritten int
	Degraded     []Stage
}

type RelayOptions struct {
	Model        string
	ContextLimit int
	StartCommand string
	WelcomeText  string
	FallbackText string
	ApologyText  string
	Typing       bool
}

// Relay drives one webhook update through user and session resolution,
// context assembly, the model call, persistence and the reply.
type Relay struct {
	users     *UserRegistry
	sessions  *SessionManager
	assembler *ContextAssembler
	turns     *MessageStore
	model     ModelClient
	chat      Messenger
	opts      RelayOptions
	logger    *slog.Logger
}

func NewRelay(users *UserRegistry, sessions *SessionManager, assembler *ContextAssembler, turns *MessageStore, model ModelClient, chat Messenger, opts RelayOptions, logger *slog.Logger) (*Relay, error) {
	if users == nil {
		return nil, errors.New("usecase: user registry must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session manager must not be nil")
	}
	if assembler == nil {
		return nil, errors.New("usecase: context assembler must not be nil")
	}
	if turns == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if model == nil {
		return nil, errors.New("usecase: model client must not be nil")
	}
	if chat == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = DefaultContextLimit
	}
	if opts.StartCommand == "" {
		opts.StartCommand = DefaultStartCommand
	}
	if opts.WelcomeText == "" {
		opts.WelcomeText = DefaultWelcomeText
	}
	if opts.FallbackText == "" {
		opts.FallbackText = DefaultFallbackText
	}
	if opts.ApologyText == "" {
		opts.ApologyText = DefaultApologyText
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		users:     users,
		sessions:  sessions,
		assembler: assembler,
		turns:     turns,
		model:     model,
		chat:      chat,
		opts:      opts,
		logger:    logger,
	}, nil
}

// run is the working set of one update.
type run struct {
	outcome Outcome
	logger  *slog.Logger
	chatID  int64
}

// advance moves the run into stage, consulting failurePolicies when err is
// non-nil. It returns err only when the failure aborts the pipeline.
func (r *Relay) advance(ctx context.Context, st *run, stage Stage, err error) error {
	if err == nil {
		st.outcome.Stage = stage
		return nil
	}
	if policy, ok := failurePolicies[stage]; !ok || policy == abortOnFailure {
		st.outcome.Stage = StageFailed
		return err
	}
	st.logger.WarnContext(ctx, "stage degraded", "stage", string(stage), "err", err)
	st.outcome.Degraded = append(st.outcome.Degraded, stage)
	st.outcome.Stage = stage
	return nil
}

// Handle processes one raw webhook update. A non-nil error is a *Error with
// code PARSE_ERROR or INTERNAL_ERROR; every other failure degrades.
func (r *Relay) Handle(ctx context.Context, raw []byte) (out Outcome, err error) {
	st := &run{outcome: Outcome{Stage: StageReceived}, logger: r.loggerFor(ctx)}

	defer func() {
		if p := recover(); p != nil {
			st.logger.ErrorContext(ctx, "relay panic", "stage", string(st.outcome.Stage), "panic", p)
			if st.chatID != 0 {
				r.sendApology(ctx, st)
			}
			out = st.outcome
			out.Stage = StageFailed
			err = newError(ErrorInternal, "panic", fmt.Errorf("%v", p))
		}
	}()

	updateID, msg, perr := parseUpdate(raw)
	if perr == nil {
		st.logger = st.logger.With("update_id", updateID)
	}
	if aerr := r.advance(ctx, st, StageParsed, perr); aerr != nil {
		st.logger.WarnContext(ctx, "update rejected", "err", aerr)
		return st.outcome, aerr
	}
	if msg == nil || strings.TrimSpace(msg.Body()) == "" {
		st.logger.InfoContext(ctx, "no message text in update")
		st.outcome.Stage = StageReplied
		return st.outcome, nil
	}

	st.chatID = msg.Chat.ID
	st.logger = st.logger.With("chat_id", msg.Chat.ID, "telegram_user_id", msg.PlatformID())
	text := msg.Body()

	if text == r.opts.StartCommand {
		return r.handleStart(ctx, st, msg), nil
	}
	return r.handleMessage(ctx, st, msg, text), nil
}

func (r *Relay) handleStart(ctx context.Context, st *run, msg *domain.Message) Outcome {
	_, err := r.users.EnsureUser(ctx, msg.PlatformID(), msg.DisplayName())
	_ = r.advance(ctx, st, StageUserResolved, err)

	r.reply(ctx, st, r.opts.WelcomeText)
	return st.outcome
}

func (r *Relay) handleMessage(ctx context.Context, st *run, msg *domain.Message, text string) Outcome {
	platformID := msg.PlatformID()

	user, err := r.users.EnsureUser(ctx, platformID, msg.DisplayName())
	userOK := err == nil
	_ = r.advance(ctx, st, StageUserResolved, err)

	session, err := r.sessions.EnsureActiveSession(ctx, platformID)
	sessionOK := err == nil
	_ = r.advance(ctx, st, StageSessionResolved, err)

	history := []domain.ChatMessage{}
	if sessionOK {
		history, err = r.assembler.LoadContext(ctx, session.ID, r.opts.ContextLimit)
		_ = r.advance(ctx, st, StageContextLoaded, err)
	} else {
		_ = r.advance(ctx, st, StageContextLoaded, nil)
	}

	if r.opts.Typing {
		if err := r.chat.SendChatAction(ctx, st.chatID, "typing"); err != nil {
			st.logger.DebugContext(ctx, "typing indicator failed", "err", err)
		}
	}

	reply, err := r.model.Chat(ctx, r.opts.Model, r.assembler.BuildPrompt(history, text))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty model reply")
	}
	if err != nil {
		reply = r.opts.FallbackText
		err = newError(ErrorModel, "model_error", err)
	}
	_ = r.advance(ctx, st, StageModelResponded, err)

	if userOK && sessionOK {
		_ = r.advance(ctx, st, StagePersisted, r.persist(ctx, st, session.ID, user.TelegramID, text, reply))
	} else {
		st.logger.InfoContext(ctx, "persistence disabled for this update", "user_resolved", userOK, "session_resolved", sessionOK)
		st.outcome.Stage = StagePersisted
	}

	r.reply(ctx, st, reply)
	return st.outcome
}

// persist attempts both turns; a failed user turn does not skip the reply turn.
func (r *Relay) persist(ctx context.Context, st *run, sessionID, userID, text, reply string) error {
	var errs []error
	for _, turn := range []domain.ChatMessage{
		{Role: domain.RoleUser, Content: text},
		{Role: domain.RoleAssistant, Content: reply},
	} {
		if _, err := r.turns.AppendTurn(ctx, sessionID, userID, turn.Role, turn.Content); err != nil {
			errs = append(errs, err)
			continue
		}
		st.outcome.TurnsWritten++
	}
	return errors.Join(errs...)
}

func (r *Relay) reply(ctx context.Context, st *run, text string) {
	st.outcome.Reply = text
	err := r.chat.SendMessage(ctx, st.chatID, text)
	if err != nil {
		err = newError(ErrorDelivery, "send_error", err)
	}
	_ = r.advance(ctx, st, StageReplied, err)
	st.outcome.Delivered = err == nil
}

// sendApology is the last-resort reply after a panic; it must not panic itself.
func (r *Relay) sendApology(ctx context.Context, st *run) {
	defer func() {
		if p := recover(); p != nil {
			st.logger.ErrorContext(ctx, "apology send panicked", "panic", p)
		}
	}()
	st.outcome.Reply = r.opts.ApologyText
	if err := r.chat.SendMessage(ctx, st.chatID, r.opts.ApologyText); err != nil {
		st.logger.ErrorContext(ctx, "apology send failed", "err", err)
		return
	}
	st.outcome.Delivered = true
}

type loggerKey struct{}

// WithLogger attaches a request-scoped logger that Handle uses instead of
// the relay's own.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func (r *Relay) loggerFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return r.logger
}

// parseUpdate returns the update id and message; the message is nil when the
// update carries none.
func parseUpdate(raw []byte) (int64, *domain.Message, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return 0, nil, newError(ErrorParse, "empty_body", nil)
	}
	var update domain.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return 0, nil, newError(ErrorParse, "malformed_update", err)
	}
	msg := update.Message
	if msg == nil {
		return update.UpdateID, nil, nil
	}
	if msg.From == nil || msg.Chat.ID == 0 {
		return update.UpdateID, nil, newError(ErrorParse, "missing_sender", nil)
	}
	return update.UpdateID, msg, nil
}
