package twitch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EventSub webhook request headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// Values of HeaderMessageType.
const (
	MessageTypeNotification = "notification"
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeRevocation   = "revocation"
)

const signaturePrefix = "sha256="

// Sign returns the signature Twitch sends for body: "sha256=" followed by the
// hex HMAC-SHA256 of messageID+timestamp+body keyed with secret.
func Sign(body []byte, messageID, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether claimed is the signature of body.
// Empty or malformed inputs are rejected. The comparison is constant time.
func VerifySignature(body []byte, messageID, timestamp, claimed, secret string) bool {
	if messageID == "" || timestamp == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(claimed, signaturePrefix) {
		return false
	}
	expected := Sign(body, messageID, timestamp, secret)
	return hmac.Equal([]byte(expected), []byte(claimed))
}
