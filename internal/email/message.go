// Package email defines the core email data model used throughout the relay pipeline.
package email

import "strings"

// Address is a single mailbox: an optional display name and an address.
type Address struct {
	Name    string
	Address string
}

// LocalPart returns the part of the address before the last "@".
// If the address has no "@", the whole address is returned.
func (a Address) LocalPart() string {
	if i := strings.LastIndex(a.Address, "@"); i >= 0 {
		return a.Address[:i]
	}
	return a.Address
}

// AddressList is an address header as received: the original header text
// plus the mailboxes it parsed into.
type AddressList struct {
	Text string
	List []Address
}

// First returns the first mailbox of the list, or the zero Address.
func (l AddressList) First() Address {
	if len(l.List) == 0 {
		return Address{}
	}
	return l.List[0]
}

// Empty reports whether the list has no usable address.
func (l AddressList) Empty() bool {
	return strings.TrimSpace(l.First().Address) == ""
}

// DecodedMessage is an inbound message after MIME decoding.
// It is built once per request and treated as read-only afterwards.
type DecodedMessage struct {
	From             AddressList
	To               AddressList
	ReplyTo          AddressList
	Subject          string
	MessageID        string
	TextBody         string
	HTMLBody         string
	Headers          Header
	AttachmentsCount int
}

// RelayEnvelope is the outbound message handed to the dispatcher.
// From always points at the owned sending domain; the original sender
// is only ever carried in ReplyTo.
type RelayEnvelope struct {
	// ID is the unique token behind MessageID. It also names the
	// transient artifact on disk.
	ID          string
	MessageID   string
	From        string
	ReplyTo     string
	Subject     string
	Date        string
	ContentType string
	Body        string

	// HasContent is false when Body is the placeholder text.
	HasContent bool
}
