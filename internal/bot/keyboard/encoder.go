// Package keyboard renders transport-neutral keyboards as Telegram inline markup.
package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CallbackDataSeparator  = ":"
	CallbackDataLimitBytes = 64
)

// EncodeCallback joins an action and its argument into callback data.
func EncodeCallback(action, arg string) (string, error) {
	if action == "" {
		return "", errors.New("callback action is empty")
	}

	payload := action
	if arg != "" {
		payload = action + CallbackDataSeparator + arg
	}
	if len(payload) > CallbackDataLimitBytes {
		return "", fmt.Errorf("callback data exceeds %d byte limit: got %d", CallbackDataLimitBytes, len(payload))
	}

	return payload, nil
}

// DecodeCallback splits callback data at the first separator.
// A leading form feed, as telebot adds for unique buttons, is ignored.
func DecodeCallback(callbackData string) (action, arg string, err error) {
	callbackData = strings.TrimPrefix(callbackData, "\f")
	if callbackData == "" {
		return "", "", errors.New("callback data is empty")
	}

	idx := strings.Index(callbackData, CallbackDataSeparator)
	if idx == -1 {
		return callbackData, "", nil
	}

	return callbackData[:idx], callbackData[idx+len(CallbackDataSeparator):], nil
}
