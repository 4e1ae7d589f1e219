package model

import (
	"crypto/sha1"
	"encoding/base64"
)

// contactTokenSize is the truncated length of a contact token.
const contactTokenSize = 10

// ContactToken derives the discovery token for a number: the first ten
// bytes of SHA-1 over the number.  Clients compute the same value locally
// to query the directory, so the derivation must never change.
func ContactToken(number string) []byte {
	sum := sha1.Sum([]byte(number))
	token := make([]byte, contactTokenSize)
	copy(token, sum[:contactTokenSize])
	return token
}

// EncodeToken renders a token the way clients send it (base64 without
// padding).
func EncodeToken(token []byte) string {
	return base64.RawStdEncoding.EncodeToString(token)
}

// ClientContact is a discovery directory entry.
type ClientContact struct {
	Token []byte `json:"-"`
	Relay string `json:"r,omitempty"`
	Voice bool   `json:"v"`
	Video bool   `json:"w"`
}

// FullVisibilityContact is the entry written for an active account.
func FullVisibilityContact(number string) ClientContact {
	return ClientContact{Token: ContactToken(number), Voice: true, Video: true}
}
