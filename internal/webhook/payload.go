package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/wamorph/internal/pipeline"
)

// Payload is the gateway's webhook delivery shape. Only the fields the
// pipeline consumes are decoded.
type Payload struct {
	TypeWebhook string `json:"typeWebhook"`
	IDMessage   string `json:"idMessage"`
	Timestamp   int64  `json:"timestamp"`
	SenderData  struct {
		ChatID     string `json:"chatId"`
		Sender     string `json:"sender"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData struct {
			Text          string        `json:"text"`
			QuotedMessage quotedMessage `json:"quotedMessage"`
		} `json:"extendedTextMessageData"`
		QuotedMessage   quotedMessage `json:"quotedMessage"`
		FileMessageData struct {
			DownloadURL string `json:"downloadUrl"`
			Caption     string `json:"caption"`
			MimeType    string `json:"mimeType"`
		} `json:"fileMessageData"`
	} `json:"messageData"`
}

// quotedMessage is the replied-to message embedded in a reply delivery.
// Only quoted text bodies are carried; quoted media is skipped.
type quotedMessage struct {
	TypeMessage         string `json:"typeMessage"`
	TextMessage         string `json:"textMessage"`
	ExtendedTextMessage struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
}

func (q quotedMessage) text() string {
	switch q.TypeMessage {
	case "textMessage":
		return q.TextMessage
	case "extendedTextMessage":
		if q.ExtendedTextMessage.Text != "" {
			return q.ExtendedTextMessage.Text
		}
		return q.TextMessage
	}
	return ""
}

const typeIncomingMessage = "incomingMessageReceived"

const groupChatSuffix = "@g.us"

// ParseEvent maps a webhook body onto a pipeline event. ok is false for
// deliveries the bot ignores (non-incoming webhook types, unsupported
// message types); err is reserved for bodies that don't decode.
func ParseEvent(body []byte) (pipeline.Event, bool, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return pipeline.Event{}, false, fmt.Errorf("decode webhook payload: %w", err)
	}
	if p.TypeWebhook != typeIncomingMessage {
		return pipeline.Event{}, false, nil
	}

	ev := pipeline.Event{
		MessageID:  p.IDMessage,
		ChatID:     p.SenderData.ChatID,
		SenderID:   p.SenderData.Sender,
		SenderName: p.SenderData.SenderName,
		IsGroup:    strings.HasSuffix(p.SenderData.ChatID, groupChatSuffix),
	}
	if ev.SenderID == "" {
		ev.SenderID = ev.ChatID
	}
	if p.Timestamp > 0 {
		ev.Timestamp = time.Unix(p.Timestamp, 0).UTC()
	}

	switch p.MessageData.TypeMessage {
	case "textMessage":
		ev.Type = pipeline.EventText
		ev.Text = p.MessageData.TextMessageData.TextMessage
	case "extendedTextMessage":
		ev.Type = pipeline.EventText
		ev.Text = p.MessageData.ExtendedTextMessageData.Text
		ev.QuotedText = p.MessageData.ExtendedTextMessageData.QuotedMessage.text()
	case "quotedMessage":
		ev.Type = pipeline.EventText
		ev.Text = p.MessageData.ExtendedTextMessageData.Text
		ev.QuotedText = p.MessageData.QuotedMessage.text()
	case "audioMessage", "voiceMessage":
		ev.Type = pipeline.EventVoice
		ev.MediaURL = p.MessageData.FileMessageData.DownloadURL
	case "imageMessage":
		ev.Type = pipeline.EventImage
		ev.MediaURL = p.MessageData.FileMessageData.DownloadURL
		ev.Caption = p.MessageData.FileMessageData.Caption
	default:
		return pipeline.Event{}, false, nil
	}

	return ev, true, nil
}
