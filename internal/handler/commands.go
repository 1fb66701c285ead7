package handler

import (
	"context"
	"fmt"

	"relaybot/internal/dispatch"
	"relaybot/internal/domain"
	"relaybot/internal/store"
)

// Command runs a "/name args" command.
func (h *Handlers) Command(ctx context.Context, u domain.Update) error {
	name, args, _ := u.Command()
	switch name {
	case "start":
		return h.start(ctx, u)
	case "help":
		return h.send(ctx, u.ChatID, h.catalog.T("help.text"))
	case "song":
		return h.song(ctx, u, args)
	case "ask":
		return h.ask(ctx, u, args)
	case "count":
		return h.count(ctx, u)
	}
	return domain.Fail(domain.FailureUnknownCommand, "command."+name)
}

func (h *Handlers) start(ctx context.Context, u domain.Update) error {
	if h.users != nil && u.UserID != 0 {
		created, err := h.users.Register(ctx, store.User{
			ID:        u.UserID,
			FirstName: u.FirstName,
			UserName:  u.UserName,
		})
		if err != nil {
			h.logger.Warn("register user failed", "user_id", u.UserID, "err", err)
		} else if created {
			h.logger.Info("new user", "user_id", u.UserID, "username", u.UserName)
		}
	}
	return h.send(ctx, u.ChatID, h.catalog.T("start.welcome"))
}

func (h *Handlers) song(ctx context.Context, u domain.Update, args string) error {
	if args == "" {
		return &domain.Failure{Kind: domain.FailureEmptyArgument, Op: "command.song", Reply: "song.usage"}
	}
	if !dispatch.IsYouTubeLink(args) {
		return h.send(ctx, u.ChatID, h.catalog.T("song.searchUnavailable", args))
	}
	if h.youtube == nil {
		return domain.Fail(domain.FailureUnavailable, "command.song")
	}
	return h.fetchAudio(ctx, u.ChatID, dispatch.ExtractLink(args, []string{"youtube.com", "youtu.be"}))
}

func (h *Handlers) ask(ctx context.Context, u domain.Update, question string) error {
	if question == "" {
		return &domain.Failure{Kind: domain.FailureEmptyArgument, Op: "command.ask", Reply: "ask.usage"}
	}
	if h.ai == nil {
		return &domain.Failure{Kind: domain.FailureUnavailable, Op: "command.ask", Reply: "ai.disabled"}
	}

	_, done, err := h.placeholder(ctx, u.ChatID, "ask.thinking")
	if err != nil {
		return fmt.Errorf("ask placeholder: %w", err)
	}
	defer done()

	var answer string
	err = h.call(ctx, h.ai.Name(), func(ctx context.Context) error {
		var err error
		answer, err = h.ai.Generate(ctx, question)
		return err
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return h.send(ctx, u.ChatID, answer)
}

func (h *Handlers) count(ctx context.Context, u domain.Update) error {
	if h.users == nil {
		return domain.Fail(domain.FailureUnavailable, "command.count")
	}
	n, err := h.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	return h.send(ctx, u.ChatID, h.catalog.T("users.count", n))
}
