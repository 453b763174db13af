// Package graph implements a Transport that relays the serialized message
// through the Microsoft Graph sendMail API.
package graph

import (
	"github.com/shineum/mail-relay-webhook/internal/email"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject       string      `json:"subject"`
	Body          messageBody `json:"body"`
	BccRecipients []recipient `json:"bccRecipients"`
	ReplyTo       []recipient `json:"replyTo,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest turns a decoded relay artifact and one batch of list
// members into a sendMail body. Members only ever go to Bcc. Graph sets the
// From itself from the sending mailbox. Relayed copies stay out of the
// mailbox's Sent Items.
func buildSendMailRequest(msg *email.DecodedMessage, batch []string) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.TextBody}
	if msg.HTMLBody != "" {
		body = messageBody{ContentType: "html", Content: msg.HTMLBody}
	}

	bcc := make([]recipient, 0, len(batch))
	for _, addr := range batch {
		bcc = append(bcc, recipient{EmailAddress: emailAddress{Address: addr}})
	}

	var replyTo []recipient
	for _, a := range msg.ReplyTo.List {
		if a.Address == "" {
			continue
		}
		replyTo = append(replyTo, recipient{EmailAddress: emailAddress{Address: a.Address, Name: a.Name}})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:       msg.Subject,
			Body:          body,
			BccRecipients: bcc,
			ReplyTo:       replyTo,
		},
		SaveToSentItems: false,
	}
}
