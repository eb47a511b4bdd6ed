package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "filegate/internal/transport"
	logx "filegate/pkg/logx"
)

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

// SendText sends text, splitting it over several messages when needed. The
// markup is attached to the first part; the first part's handle is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt, to.ThreadID)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText edits ref in place. Text beyond one message is sent as new
// messages. Editing to identical content is not an error.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, 0)); err != nil && !isNotModified(err) {
		return mapError(err)
	}
	if len(chunks) == 1 {
		return nil
	}
	rest := kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, sendOptions(&rest, ref.ThreadID)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// EditMarkup replaces the inline keyboard of ref. markup must be a
// *tele.ReplyMarkup; nil removes the keyboard.
func (a *Adapter) EditMarkup(ctx context.Context, ref kit.MessageRef, markup any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rm, _ := markup.(*tele.ReplyMarkup)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.EditReplyMarkup(m, rm); err != nil && !isNotModified(err) {
		return mapError(err)
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// Copy calls copyMessage directly: telebot's Copy cannot replace the caption.
func (a *Adapter) Copy(ctx context.Context, to kit.ChatTarget, from kit.MessageRef, opt *kit.CopyOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.CopyOptions{}
	}
	params := map[string]any{
		"chat_id":      to.ChatID,
		"from_chat_id": from.ChatID,
		"message_id":   from.MessageID,
	}
	if to.ThreadID != 0 {
		params["message_thread_id"] = to.ThreadID
	}
	if opt.Caption != nil {
		params["caption"] = *opt.Caption
		if opt.ParseMode != "" {
			params["parse_mode"] = opt.ParseMode
		}
	}
	if opt.Protected {
		params["protect_content"] = true
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		params["reply_markup"] = rm
	}

	data, err := a.bot.Raw("copyMessage", params)
	if err != nil {
		return kit.MessageRef{}, mapError(err)
	}
	var resp struct {
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return kit.MessageRef{}, fmt.Errorf("copyMessage: decode response: %w", err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: resp.Result.MessageID}, nil
}

func stored(ref kit.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{ChatID: ref.ChatID, MessageID: strconv.Itoa(ref.MessageID)}
}

func (a *Adapter) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Delete(stored(ref)))
}

// Pin pins ref without notifying the chat.
func (a *Adapter) Pin(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Pin(stored(ref), tele.Silent))
}

// UpdateMenuCommands calls setMyCommands when the list changed since the
// last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	type command struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	list := make([]command, 0, len(cmds))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" || len(list) == 100 {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		list = append(list, command{Command: c.Command, Description: d})
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if _, err := a.bot.Raw("setMyCommands", map[string]any{"commands": list}); err != nil {
		return fmt.Errorf("setMyCommands: %w", mapError(err))
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
