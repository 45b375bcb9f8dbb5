package wechat

import (
	"encoding/xml"
	"fmt"
	"time"
)

// InboundMessage is the envelope the platform posts to the webhook: either a
// text message carrying a user command or an event such as a new follower.
type InboundMessage struct {
	XMLName  xml.Name `xml:"xml"`
	To       string   `xml:"ToUserName"`
	From     string   `xml:"FromUserName"`
	MsgType  string   `xml:"MsgType"`
	Content  string   `xml:"Content"`
	Event    string   `xml:"Event"`
	EventKey string   `xml:"EventKey"`
}

// ParseInbound decodes a webhook request body.
func ParseInbound(body []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := xml.Unmarshal(body, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("parse inbound message: %w", err)
	}
	return msg, nil
}

type cdata struct {
	Value string `xml:",cdata"`
}

type textReply struct {
	XMLName    xml.Name `xml:"xml"`
	To         cdata    `xml:"ToUserName"`
	From       cdata    `xml:"FromUserName"`
	CreateTime int64    `xml:"CreateTime"`
	MsgType    cdata    `xml:"MsgType"`
	Content    cdata    `xml:"Content"`
}

// TextReply encodes a text reply to msg with the given content, swapping the
// to/from addressing as the protocol requires.
func TextReply(msg InboundMessage, content string) string {
	r := textReply{
		To:         cdata{msg.From},
		From:       cdata{msg.To},
		CreateTime: time.Now().Unix(),
		MsgType:    cdata{"text"},
		Content:    cdata{content},
	}
	b, err := xml.Marshal(r)
	if err != nil {
		// all fields are strings; Marshal cannot fail on them
		return ""
	}
	return string(b)
}
