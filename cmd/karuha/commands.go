package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/text"
	"github.com/Visecy/Karuha-sub000/internal/usecase/command"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
	"github.com/Visecy/Karuha-sub000/internal/usecase/rule"
	"github.com/Visecy/Karuha-sub000/internal/usecase/session"
)

var greeting = regexp.MustCompile(`(?i)^\s*(hi|hello|hey)\b`)

var (
	paramSession = command.Param{Name: "session", Kind: command.KindSession}
	paramArgv    = command.Param{Name: "argv", Kind: command.KindStrings}
)

// newBotCommands builds the built-in command set.
func newBotCommands(deps session.Deps, prefixes []string) (*command.Collection, error) {
	c := command.NewCollection("karuha", command.Deps{
		Parser: command.NewPrefixParser(prefixes...),
		Bus:    deps.Bus,
		Logger: deps.Logger,
		Sessions: func(m *message.Message) *session.Session {
			return session.ForMessage(deps, m)
		},
	})
	prefix := "/"
	if len(prefixes) > 0 {
		prefix = prefixes[0]
	}

	cmds := []*command.Command{
		command.New("help", helpCommand(c, prefix), command.WithAliases("h"), command.WithParams(paramSession)),
		command.New("ping", pingCommand, command.WithParams(paramSession)),
		command.New("echo", echoCommand, command.WithParams(paramArgv, paramSession)),
		command.New("confirm", confirmCommand, command.WithParams(paramArgv, paramSession)),
	}
	for _, cmd := range cmds {
		if err := c.Register(cmd); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func helpCommand(root *command.Collection, prefix string) command.Handler {
	return func(ctx context.Context, v command.Values) (any, error) {
		var b strings.Builder
		b.WriteString("Commands:")
		for _, cmd := range root.Commands() {
			fmt.Fprintf(&b, "\n%s%s", prefix, cmd.Name)
			if len(cmd.Aliases) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(cmd.Aliases, ", "))
			}
		}
		_, err := v.Session("session").SendText(ctx, b.String())
		return nil, err
	}
}

func pingCommand(ctx context.Context, v command.Values) (any, error) {
	_, err := v.Session("session").Reply(ctx, text.Plain{Text: "pong"})
	return "pong", err
}

func echoCommand(ctx context.Context, v command.Values) (any, error) {
	msg := strings.Join(v.Strings("argv"), " ")
	if msg == "" {
		return nil, fmt.Errorf("%w: nothing to echo", domain.ErrInvalidInput)
	}
	_, err := v.Session("session").Reply(ctx, text.Plain{Text: msg})
	return msg, err
}

// confirmCommand asks the sender a yes/no question with form buttons and
// reports the answer.
func confirmCommand(ctx context.Context, v command.Values) (any, error) {
	question := strings.Join(v.Strings("argv"), " ")
	if question == "" {
		question = "Are you sure?"
	}
	s := v.Session("session")
	yes, err := s.Confirm(ctx, question)
	if err != nil {
		return nil, err
	}
	answer := "no"
	if yes {
		answer = "yes"
	}
	_, err = s.Reply(ctx, text.Join(text.Plain{Text: "You answered "}, text.Styled{Text: answer, Style: text.Bold}))
	return yes, err
}

// replyUnknownCommand answers a command nobody registered.
func replyUnknownCommand(deps session.Deps, prefix string) domain.EventHandler {
	return func(ctx context.Context, ev domain.Event) {
		var p domain.CommandPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || ev.Topic == "" {
			return
		}
		s := session.New(deps, ev.Topic)
		msg := fmt.Sprintf("Unknown command %s%s, try %shelp", prefix, p.Command, prefix)
		if _, err := s.SendText(ctx, msg, session.ReplyTo(p.SeqID)); err != nil {
			deps.Logger.Warn("unknown command reply failed", "topic", ev.Topic, "error", err)
		}
	}
}

// listenGreetings answers greetings addressed to the bot. Rule listeners
// outrank commands, so a greeting never reaches the command set.
func listenGreetings(reg *dispatch.Registry[*message.Message], deps session.Deps, botID string) (*dispatch.Handle[*message.Message], error) {
	toMe, err := rule.Build(rule.Options{ToMe: botID, Regex: greeting})
	if err != nil {
		return nil, err
	}
	r := rule.And(toMe, rule.Not(rule.User(botID)))
	return rule.On(reg, r, func(ctx context.Context, m *message.Message) (any, error) {
		reply := text.Join(text.Plain{Text: "Hello, "}, text.Mention{Text: "@" + m.UserID, Value: m.UserID}, text.Plain{Text: "!"})
		seq, err := session.ForMessage(deps, m).Reply(ctx, reply)
		return seq, err
	}, dispatch.Named("greeting")), nil
}
