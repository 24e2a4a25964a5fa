package keyboard_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/claim-bot/internal/bot/keyboard"
)

func TestEncodeCallback(t *testing.T) {
	tests := []struct {
		name      string
		action    string
		arg       string
		want      string
		wantError bool
	}{
		{name: "with argument", action: "tier", arg: "weekly", want: "tier:weekly"},
		{name: "without argument", action: "joined", want: "joined"},
		{name: "empty action", action: "", arg: "x", wantError: true},
		{
			name:      "exceeds limit",
			action:    "tier",
			arg:       strings.Repeat("x", keyboard.CallbackDataLimitBytes),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := keyboard.EncodeCallback(tt.action, tt.arg)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCallback(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantAction string
		wantArg    string
		wantErr    bool
	}{
		{name: "action and argument", input: "tier:monthly", wantAction: "tier", wantArg: "monthly"},
		{name: "only action", input: "cancel", wantAction: "cancel"},
		{name: "multiple separators", input: "action:part1:part2", wantAction: "action", wantArg: "part1:part2"},
		{name: "telebot unique prefix", input: "\fjoined", wantAction: "joined"},
		{name: "empty input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, arg, err := keyboard.DecodeCallback(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}
