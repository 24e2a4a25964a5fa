package keyboard

import (
	"fmt"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/notify"
)

// InlineKeyboardBuilder accumulates rows before rendering telebot markup.
type InlineKeyboardBuilder struct {
	rows [][]notify.Button
}

// NewInlineKeyboard creates an empty builder.
func NewInlineKeyboard() *InlineKeyboardBuilder {
	return &InlineKeyboardBuilder{rows: make([][]notify.Button, 0)}
}

// AddRow appends a row; empty rows are skipped.
func (b *InlineKeyboardBuilder) AddRow(buttons ...notify.Button) *InlineKeyboardBuilder {
	if len(buttons) == 0 {
		return b
	}

	row := make([]notify.Button, len(buttons))
	copy(row, buttons)
	b.rows = append(b.rows, row)
	return b
}

// Build renders the rows. Callback buttons carry the encoded action in Data and
// leave Unique empty so telebot sends the data untouched.
func (b *InlineKeyboardBuilder) Build() (*telebot.ReplyMarkup, error) {
	inlineKeyboard := make([][]telebot.InlineButton, len(b.rows))
	for i, row := range b.rows {
		inlineKeyboard[i] = make([]telebot.InlineButton, len(row))
		for j, btn := range row {
			rendered, err := renderButton(btn)
			if err != nil {
				return nil, fmt.Errorf("row %d button %d: %w", i, j, err)
			}
			inlineKeyboard[i][j] = rendered
		}
	}

	return &telebot.ReplyMarkup{InlineKeyboard: inlineKeyboard}, nil
}

// Render converts kb to markup. A nil or empty keyboard renders as nil.
func Render(kb notify.Keyboard) (*telebot.ReplyMarkup, error) {
	if len(kb) == 0 {
		return nil, nil
	}

	b := NewInlineKeyboard()
	for _, row := range kb {
		b.AddRow(row...)
	}
	return b.Build()
}

func renderButton(btn notify.Button) (telebot.InlineButton, error) {
	if btn.URL != "" {
		return telebot.InlineButton{Text: btn.Text, URL: btn.URL}, nil
	}

	data, err := EncodeCallback(btn.Action, btn.Arg)
	if err != nil {
		return telebot.InlineButton{}, err
	}
	return telebot.InlineButton{Text: btn.Text, Data: data}, nil
}
