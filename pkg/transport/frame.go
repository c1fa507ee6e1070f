package transport

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	FrameInit        = "init"
	FrameSendMessage = "send_message"
	FrameNewMessage  = "new_message"
	FrameTyping      = "typing"
	FrameError       = "error"

	SenderAssistant = "assistant"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the union of every message exchanged on the realtime channel.
// Only the fields relevant to Type are set.
type Frame struct {
	Type     string `json:"type"`
	UserID   int    `json:"userId,omitempty"`
	Text     string `json:"text,omitempty"`
	Sender   string `json:"sender,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
	Message  string `json:"message,omitempty"`
}

func InitFrame(userID int) Frame { return Frame{Type: FrameInit, UserID: userID} }

func SendMessageFrame(text string) Frame { return Frame{Type: FrameSendMessage, Text: text} }

func EncodeFrame(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return b, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, errors.Wrapf(ErrMalformedFrame, "%v", err)
	}
	if f.Type == "" {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "missing type")
	}
	return f, nil
}
