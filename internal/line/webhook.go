package line

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/store"
)

// ReplyTokenTTL is how long after the event a reply token is assumed usable.
const ReplyTokenTTL = time.Minute

// ErrInvalidSignature is returned by Parse when X-Line-Signature does not match.
var ErrInvalidSignature = errors.New("line: invalid webhook signature")

// InboundKind classifies what an inbound event asks of the bot.
type InboundKind int

// Inbound kinds.
const (
	InboundFile   InboundKind = iota + 1 // file, image, video or audio message
	InboundText                          // text message, possibly a command
	InboundJoined                        // members joined a group or room
)

// Inbound is a webhook event the bot acts on.
type Inbound struct {
	Kind  InboundKind
	Event fanout.Event

	// File messages: the name to save under and a MIME type guess. The
	// content itself is fetched separately by MessageID.
	FileName string
	MimeType string
	FileSize int64 // 0 when the platform does not say

	Text    string   // text messages
	Members []string // joined user ids
}

// Parse verifies the request signature and converts the events the bot
// understands. Other events are dropped.
func Parse(channelSecret string, r *http.Request) ([]Inbound, error) {
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}

		return nil, fmt.Errorf("line: parsing webhook: %w", err)
	}

	var out []Inbound

	for _, ev := range cb.Events {
		if in, ok := convert(ev); ok {
			out = append(out, in)
		}
	}

	return out, nil
}

func convert(ev webhook.EventInterface) (Inbound, bool) {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		return convertMessage(e)

	case webhook.MemberJoinedEvent:
		base, ok := eventContext(e.Source, e.ReplyToken, e.Timestamp)
		if !ok || e.Joined == nil {
			return Inbound{}, false
		}

		in := Inbound{Kind: InboundJoined, Event: base}
		for _, m := range e.Joined.Members {
			if m.UserId != "" {
				in.Members = append(in.Members, m.UserId)
			}
		}

		return in, len(in.Members) > 0
	}

	return Inbound{}, false
}

func convertMessage(e webhook.MessageEvent) (Inbound, bool) {
	base, ok := eventContext(e.Source, e.ReplyToken, e.Timestamp)
	if !ok {
		return Inbound{}, false
	}

	switch m := e.Message.(type) {
	case webhook.TextMessageContent:
		base.MessageID = m.Id
		return Inbound{Kind: InboundText, Event: base, Text: m.Text}, true

	case webhook.FileMessageContent:
		base.MessageID = m.Id

		return Inbound{
			Kind:     InboundFile,
			Event:    base,
			FileName: m.FileName,
			MimeType: mimeFromName(m.FileName),
			FileSize: int64(m.FileSize),
		}, true

	case webhook.ImageMessageContent:
		base.MessageID = m.Id
		return mediaInbound(base, "image", ".jpg", "image/jpeg"), true

	case webhook.VideoMessageContent:
		base.MessageID = m.Id
		return mediaInbound(base, "video", ".mp4", "video/mp4"), true

	case webhook.AudioMessageContent:
		base.MessageID = m.Id
		return mediaInbound(base, "audio", ".m4a", "audio/mp4"), true
	}

	return Inbound{}, false
}

// mediaInbound names platform media the way the bot always has:
// <kind>_<messageID><ext>.
func mediaInbound(base fanout.Event, kind, ext, mimeType string) Inbound {
	return Inbound{
		Kind:     InboundFile,
		Event:    base,
		FileName: kind + "_" + base.MessageID + ext,
		MimeType: mimeType,
	}
}

// eventContext extracts who and where from an event source.
func eventContext(src webhook.SourceInterface, replyToken string, timestampMillis int64) (fanout.Event, bool) {
	var ev fanout.Event

	switch s := src.(type) {
	case webhook.UserSource:
		ev = fanout.Event{Kind: store.KindDirect, ContextID: s.UserId, SenderID: s.UserId}
	case webhook.GroupSource:
		ev = fanout.Event{Kind: store.KindGroup, ContextID: s.GroupId, SenderID: s.UserId}
	case webhook.RoomSource:
		ev = fanout.Event{Kind: store.KindRoom, ContextID: s.RoomId, SenderID: s.UserId}
	default:
		return fanout.Event{}, false
	}

	if ev.ContextID == "" {
		return fanout.Event{}, false
	}

	if replyToken != "" {
		var expires time.Time
		if timestampMillis > 0 {
			expires = time.UnixMilli(timestampMillis).Add(ReplyTokenTTL)
		}

		ev.Reply = fanout.NewReplyHandle(replyToken, expires)
	}

	return ev, true
}

// mimeFromName guesses a MIME type from a file extension.
func mimeFromName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}

	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}

	return "application/octet-stream"
}
