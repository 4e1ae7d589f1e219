package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MasterDeviceID is the device id of the primary (registering) device.
const MasterDeviceID int64 = 1

// activeWindow bounds how long an account may go unseen and still be
// listed in the discovery directory.
const activeWindow = 365 * 24 * time.Hour

// ErrSerialization is returned when an account payload cannot be encoded
// or decoded.
var ErrSerialization = errors.New("account payload serialization failed")

// SignedPreKey is the device's current signed pre-key.
type SignedPreKey struct {
	KeyID     int64  `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Device is one registered client of an account.  Timestamps are Unix
// milliseconds so the stored document stays stable across encoders.
type Device struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name,omitempty"`
	FetchesMessages bool          `json:"fetchesMessages"`
	GcmID           string        `json:"gcmId,omitempty"`
	ApnID           string        `json:"apnId,omitempty"`
	VoipApnID       string        `json:"voipApnId,omitempty"`
	RegistrationID  int           `json:"registrationId"`
	SignedPreKey    *SignedPreKey `json:"signedPreKey,omitempty"`
	LastSeen        int64         `json:"lastSeen"`
	Created         int64         `json:"created"`
	UserAgent       string        `json:"userAgent,omitempty"`
}

// hasChannel reports whether the device can receive messages at all.
func (d Device) hasChannel() bool {
	return d.FetchesMessages || d.GcmID != "" || d.ApnID != ""
}

// IsActive reports whether the device counts toward account activity.
// Secondary devices must additionally have been seen within 30 days.
func (d Device) IsActive(now time.Time) bool {
	if !d.hasChannel() || d.SignedPreKey == nil {
		return false
	}
	if d.ID == MasterDeviceID {
		return true
	}
	return d.LastSeen > now.Add(-30*24*time.Hour).UnixMilli()
}

// Account is the account-of-record for one phone number.  Number is the
// primary key everywhere and is never part of the serialized payload; the
// store and the cache attach it separately on read.
type Account struct {
	Number string `json:"-"`

	Devices                        []Device `json:"devices"`
	IdentityKey                    string   `json:"identityKey,omitempty"`
	Name                           string   `json:"name,omitempty"`
	Avatar                         string   `json:"avatar,omitempty"`
	AvatarDigest                   string   `json:"avatarDigest,omitempty"`
	Pin                            string   `json:"pin,omitempty"`
	UnidentifiedAccessKey          []byte   `json:"uak,omitempty"`
	UnrestrictedUnidentifiedAccess bool     `json:"uua,omitempty"`
}

// MasterDevice returns the account's primary device, if registered.
func (a Account) MasterDevice() (Device, bool) {
	return a.Device(MasterDeviceID)
}

// Device returns the device with the given id.
func (a Account) Device(id int64) (Device, bool) {
	for _, d := range a.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// LastSeen is the most recent LastSeen over all devices.
func (a Account) LastSeen() int64 {
	var last int64
	for _, d := range a.Devices {
		if d.LastSeen > last {
			last = d.LastSeen
		}
	}
	return last
}

// IsActive reports whether the account should be discoverable: the master
// device is active and the account was seen within the last year.
func (a Account) IsActive() bool {
	return a.IsActiveAt(time.Now())
}

// IsActiveAt is IsActive evaluated at a fixed instant.
func (a Account) IsActiveAt(now time.Time) bool {
	master, ok := a.MasterDevice()
	if !ok || !master.IsActive(now) {
		return false
	}
	return a.LastSeen() > now.Add(-activeWindow).UnixMilli()
}

// MarshalPayload encodes the account document without its number.
func MarshalPayload(a Account) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return b, nil
}

// UnmarshalPayload decodes a stored document and attaches number to it.
func UnmarshalPayload(number string, data []byte) (Account, error) {
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	a.Number = number
	return a, nil
}
