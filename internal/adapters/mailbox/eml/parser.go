package eml

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/utils"
)

const maxPartDepth = 5

var wordDecoder = new(mime.WordDecoder)

// ParseMessage reads one RFC 822 message into a RawMessage.
// The body is the first text/plain part, or the text of the first text/html part.
func ParseMessage(r io.Reader) (*core.RawMessage, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	raw := &core.RawMessage{
		ID:      strings.Trim(msg.Header.Get("Message-Id"), "<>"),
		Sender:  decodeHeader(msg.Header.Get("From")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}
	if date, err := msg.Header.Date(); err == nil {
		raw.ReceivedAt = date.UTC()
	} else {
		raw.ReceivedAt = time.Now().UTC()
	}
	for _, name := range []string{"To", "Cc"} {
		if v := msg.Header.Get(name); v != "" {
			raw.Recipients = append(raw.Recipients, decodeHeader(v))
		}
	}

	plain, htmlBody, err := extractText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if err != nil {
		return nil, err
	}
	if plain == "" && htmlBody != "" {
		if plain, err = utils.HTMLToText(htmlBody); err != nil {
			return nil, fmt.Errorf("failed to read HTML body: %w", err)
		}
	}
	raw.BodyText = strings.TrimSpace(plain)
	return raw, nil
}

func decodeHeader(v string) string {
	if decoded, err := wordDecoder.DecodeHeader(v); err == nil {
		return decoded
	}
	return v
}

// extractText walks a MIME entity and returns its first text/plain and text/html bodies
func extractText(contentType, encoding string, body io.Reader, depth int) (plain, htmlBody string, err error) {
	mediaType, params, perr := mime.ParseMediaType(contentType)
	if contentType == "" || perr != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" || depth >= maxPartDepth {
			return "", "", nil
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				// keep whatever was readable before the broken part
				if plain != "" || htmlBody != "" {
					return plain, htmlBody, nil
				}
				return "", "", fmt.Errorf("failed to read multipart body: %w", err)
			}
			p, h, err := extractText(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
			if err != nil {
				continue
			}
			if plain == "" {
				plain = p
			}
			if htmlBody == "" {
				htmlBody = h
			}
		}
		return plain, htmlBody, nil
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", "", nil
	}

	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return "", "", fmt.Errorf("failed to read body: %w", err)
	}
	if mediaType == "text/html" {
		return "", string(data), nil
	}
	return string(data), "", nil
}

// decodeTransfer undoes a Content-Transfer-Encoding. multipart.Reader already
// decodes quoted-printable parts and drops the header.
func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}
