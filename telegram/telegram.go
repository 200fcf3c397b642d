// Package telegram implements the delivery Transport over the Telegram Bot
// API.
package telegram

import (
	"context"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v3"

	"plebfeed/delivery"
)

// chatRecipient lets targets be either numeric chat ids or @channel names.
type chatRecipient string

func (r chatRecipient) Recipient() string {
	return string(r)
}

// Bot sends messages through a Telegram bot account.
type Bot struct {
	bot *tele.Bot
}

var _ delivery.Transport = (*Bot)(nil)

func New(token string) (*Bot, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 2 * time.Minute},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{bot: bot}, nil
}

// Username returns the bot account's username.
func (b *Bot) Username() string {
	return b.bot.Me.Username
}

func (b *Bot) SendText(ctx context.Context, target string, text string, opts delivery.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.bot.Send(chatRecipient(target), text, sendOptions(opts))
	return err
}

func (b *Bot) SendImage(ctx context.Context, target string, url string, opts delivery.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{
		File:       tele.FromURL(url),
		Caption:    opts.Caption,
		HasSpoiler: opts.Spoiler,
	}
	_, err := b.bot.Send(chatRecipient(target), photo, sendOptions(opts))
	return err
}

func (b *Bot) SendVideo(ctx context.Context, target string, url string, opts delivery.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	video := &tele.Video{
		File:       tele.FromURL(url),
		Caption:    opts.Caption,
		HasSpoiler: opts.Spoiler,
	}
	_, err := b.bot.Send(chatRecipient(target), video, sendOptions(opts))
	return err
}

func (b *Bot) SendAudio(ctx context.Context, target string, url string, opts delivery.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	audio := &tele.Audio{
		File:    tele.FromURL(url),
		Caption: opts.Caption,
	}
	_, err := b.bot.Send(chatRecipient(target), audio, sendOptions(opts))
	return err
}

func (b *Bot) SendAnimation(ctx context.Context, target string, url string, opts delivery.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	animation := &tele.Animation{
		File:       tele.FromURL(url),
		Caption:    opts.Caption,
		HasSpoiler: opts.Spoiler,
	}
	_, err := b.bot.Send(chatRecipient(target), animation, sendOptions(opts))
	return err
}

func sendOptions(opts delivery.SendOptions) *tele.SendOptions {
	var markup *tele.ReplyMarkup
	if len(opts.Buttons) > 0 {
		row := make([]tele.InlineButton, 0, len(opts.Buttons))
		for _, button := range opts.Buttons {
			row = append(row, tele.InlineButton{Text: button.Text, URL: button.URL})
		}
		markup = &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{row}}
	}

	return &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		ReplyMarkup:           markup,
		DisableWebPagePreview: opts.DisableLinkPreview,
	}
}
