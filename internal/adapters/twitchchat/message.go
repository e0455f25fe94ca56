package twitchchat

import (
	"fmt"
	"strings"
)

// Message is one IRC line with IRCv3 tags
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Trailing returns the last parameter, which holds the chat text for PRIVMSG
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

type ChatMessage struct {
	User        string
	Text        string
	IsModerator bool
	Channel     string
}

var tagValueEscapes = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\\`, `\`,
	`\r`, "\r",
	`\n`, "\n",
)

// ParseLine parses a single IRC line without its trailing CRLF
func ParseLine(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, fmt.Errorf("empty line")
	}

	msg := Message{Tags: map[string]string{}}

	if strings.HasPrefix(line, "@") {
		rawTags, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return Message{}, fmt.Errorf("line has tags but no command")
		}
		for _, tag := range strings.Split(rawTags, ";") {
			key, value, _ := strings.Cut(tag, "=")
			if key == "" {
				continue
			}
			msg.Tags[key] = tagValueEscapes.Replace(value)
		}
		line = strings.TrimLeft(rest, " ")
	}

	if strings.HasPrefix(line, ":") {
		prefix, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return Message{}, fmt.Errorf("line has prefix but no command")
		}
		msg.Prefix = prefix
		line = strings.TrimLeft(rest, " ")
	}

	command, rest, _ := strings.Cut(line, " ")
	if command == "" {
		return Message{}, fmt.Errorf("line has no command")
	}
	msg.Command = strings.ToUpper(command)

	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if strings.HasPrefix(rest, ":") {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		var param string
		param, rest, _ = strings.Cut(rest, " ")
		msg.Params = append(msg.Params, param)
	}

	return msg, nil
}

// Nick is the nickname part of a nick!user@host prefix
func (m Message) Nick() string {
	nick, _, _ := strings.Cut(m.Prefix, "!")
	return nick
}

func (m Message) isModerator() bool {
	if m.Tags["mod"] == "1" {
		return true
	}
	for _, badge := range strings.Split(m.Tags["badges"], ",") {
		name, _, _ := strings.Cut(badge, "/")
		if name == "broadcaster" || name == "moderator" {
			return true
		}
	}
	return false
}

// ChatMessage converts a PRIVMSG. The second return is false for other commands.
func (m Message) ChatMessage() (ChatMessage, bool) {
	if m.Command != "PRIVMSG" || len(m.Params) < 2 {
		return ChatMessage{}, false
	}

	user := m.Tags["display-name"]
	if user == "" {
		user = m.Nick()
	}

	return ChatMessage{
		User:        user,
		Text:        strings.TrimSpace(m.Trailing()),
		IsModerator: m.isModerator(),
		Channel:     strings.TrimPrefix(m.Params[0], "#"),
	}, true
}
