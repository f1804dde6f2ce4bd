// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// DeliveryPath records which route a message took at send time.
type DeliveryPath string

const (
	// DeliveryLive means the message was emitted to at least one live channel.
	DeliveryLive DeliveryPath = "live"
	// DeliveryPush means the message was handed off to the push dispatcher.
	DeliveryPush DeliveryPath = "push"
	// DeliveryNone means the recipient was offline with no registered device.
	DeliveryNone DeliveryPath = "none"
)

// User represents a marketplace account. The password digest is a one-way
// Argon2id transform; plaintext is never stored or logged.
type User struct {
	ID        uuid.UUID // PK
	Name      string    // display name
	Email     string    // unique login identifier
	PwdDigest string    // PHC-encoded Argon2id digest
	PushToken string    // mobile push token, empty until the device registers one
	CreatedAt time.Time
}

// Message is a persisted chat message. Immutable once written; the delivery
// path taken at send time is recorded, delivery outcome never rewrites it.
type Message struct {
	ID           uuid.UUID
	SenderID     uuid.UUID
	RecipientID  uuid.UUID
	Body         string
	DeliveryPath DeliveryPath
	CreatedAt    time.Time
}
