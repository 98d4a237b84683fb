package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Syncre-App/chatcore/internal/chatsync"
	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/internal/notify"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/logger"
	"github.com/Syncre-App/chatcore/pkg/types"
)

// LoginCommand stores token after checking it against the profile endpoint.
func LoginCommand(ctx context.Context, a *App, token string, out io.Writer) error {
	if err := a.SaveToken(token); err != nil {
		return err
	}
	profile, err := a.API.FetchProfile(ctx)
	if err != nil {
		_ = a.Logout()
		return fmt.Errorf("token rejected: %w", err)
	}
	fmt.Fprintf(out, "Logged in as %s\n", profile.Username)
	if exp, ok := crypto.TokenExpiresAt(token); ok {
		fmt.Fprintf(out, "Token expires %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

// LogoutCommand forgets the stored token.
func LogoutCommand(a *App, out io.Writer) error {
	if err := a.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged out")
	return nil
}

// ChatsCommand prints the chat list with unread counters.
func ChatsCommand(ctx context.Context, a *App, out io.Writer) error {
	if _, err := a.Token(); err != nil {
		return err
	}

	var (
		chats  []types.ChatSummary
		unread types.UnreadSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chats, err = a.API.ListChats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		if unread, err = a.API.UnreadSummary(gctx); err != nil {
			logger.Warnf("cli: unread summary unavailable: %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}

	if len(chats) == 0 {
		fmt.Fprintln(out, "No chats")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHAT\tUNREAD\tUPDATED")
	for _, c := range chats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, wire.Truncate(c.Title(), 40),
			unread.Chats[c.ID], c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// ChatSession is an interactive conversation in one chat. Lines read from
// In are sent; "/older" pages history and "/quit" ends the session.
type ChatSession struct {
	App     *App
	ChatID  string
	ReadPIN PINReader
	In      io.Reader
	Out     io.Writer
}

// Run drives the session until input ends or ctx is cancelled.
func (s *ChatSession) Run(ctx context.Context) error {
	token, err := s.App.Token()
	if err != nil {
		return err
	}
	profile, err := s.App.API.FetchProfile(ctx)
	if err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if err := s.App.EnsureUnlocked(ctx, s.ReadPIN); err != nil {
		logger.Warnf("cli: continuing without encryption: %v", err)
	}

	engine, transport := s.App.NewEngine()
	defer transport.Close()
	engine.Start()
	defer engine.Stop()

	if err := engine.SetSession(ctx, token, profile.ID, profile.Username); err != nil {
		return err
	}
	if err := s.awaitChats(ctx, engine); err != nil {
		return err
	}
	if err := engine.SelectChat(ctx, s.ChatID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.render(ctx, engine)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-engine.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handleLine(ctx, engine, line); quit {
				return nil
			}
		}
	}
}

func (s *ChatSession) awaitChats(ctx context.Context, engine *chatsync.Engine) error {
	for {
		snap := engine.Snapshot()
		if snap.ChatsError != "" {
			return fmt.Errorf("failed to load chats: %s", snap.ChatsError)
		}
		if snap.Session.Token != "" && !snap.ChatsLoading {
			if _, ok := snap.Chat(s.ChatID); !ok {
				return fmt.Errorf("chat %s not found", s.ChatID)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-engine.Changes():
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *ChatSession) handleLine(ctx context.Context, engine *chatsync.Engine, line string) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit":
		return true
	case "/older":
		if err := engine.LoadOlderMessages(ctx, s.ChatID); err != nil {
			logger.Warnf("cli: %v", err)
		}
		return false
	}
	if _, err := engine.SendMessage(ctx, s.ChatID, line); err != nil {
		if errors.Is(err, chatsync.ErrEmptyMessage) {
			return false
		}
		logger.Errorf("cli: send failed: %v", err)
	}
	return false
}

// render prints confirmed messages as they arrive. Optimistic entries are
// skipped; their server echo is printed instead.
func (s *ChatSession) render(ctx context.Context, engine *chatsync.Engine) {
	printed := make(map[string]string)
	var (
		typing string
		unread map[string]int
	)
	for {
		snap := engine.Snapshot()
		if unread != nil {
			s.alertUnread(ctx, snap, unread)
		}
		unread = snap.Unread
		for _, m := range snap.Messages[s.ChatID] {
			if strings.HasPrefix(m.ID, "pending-") {
				continue
			}
			text := messageText(m)
			if prev, ok := printed[m.ID]; ok && prev == text {
				continue
			}
			printed[m.ID] = text
			fmt.Fprintln(s.Out, formatMessage(m, snap.Session.UserID, text))
		}
		if who := strings.Join(engine.TypingUsers(s.ChatID), ", "); who != typing {
			typing = who
			if who != "" {
				fmt.Fprintf(s.Out, "  %s typing…\n", who)
			}
		}
		if snap.EncryptionError != "" {
			logger.Debugf("cli: %s", snap.EncryptionError)
		}

		select {
		case <-ctx.Done():
			return
		case <-engine.Changes():
		}
	}
}

// alertUnread notifies about chats whose unread counter grew since prev.
func (s *ChatSession) alertUnread(ctx context.Context, snap chatsync.State, prev map[string]int) {
	if s.App.Notifier == nil {
		return
	}
	for id, n := range snap.Unread {
		if id == s.ChatID || n <= prev[id] {
			continue
		}
		title := "chat " + id
		if c, ok := snap.Chat(id); ok {
			title = c.Title()
		}
		body := "1 new message"
		if n > 1 {
			body = fmt.Sprintf("%d new messages", n)
		}
		go func(msg notify.Message) {
			if err := s.App.Notifier.Notify(ctx, msg); err != nil {
				logger.Warnf("cli: notification failed: %v", err)
			}
		}(notify.Message{Title: title, Body: body, Key: id})
	}
}

func messageText(m types.ChatMessage) string {
	switch {
	case m.IsDeleted:
		return "[deleted]"
	case m.Content == nil && m.IsEncrypted:
		if m.Preview != nil {
			return *m.Preview
		}
		return "[encrypted]"
	}
	text := m.Text()
	if len(m.Attachments) > 0 {
		text = strings.TrimSpace(fmt.Sprintf("%s [%d attachment(s)]", text, len(m.Attachments)))
	}
	return text
}

func formatMessage(m types.ChatMessage, selfID, text string) string {
	sender := m.SenderName
	if sender == "" {
		sender = m.SenderID
	}
	if m.SenderID == selfID {
		sender = "me"
	}
	stamp := m.CreatedAt.Local().Format("15:04")
	if m.Status != "" && m.SenderID == selfID {
		return fmt.Sprintf("[%s] %s: %s (%s)", stamp, sender, text, m.Status)
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, sender, text)
}
