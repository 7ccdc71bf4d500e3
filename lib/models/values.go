package models

import (
	"errors"
	"fmt"
)

// ErrInvalidSource is returned when a source key cannot be used for the given kind.
var ErrInvalidSource = errors.New("invalid source")

type SourceKind string

const (
	SourceFeed   SourceKind = "feed"
	SourceStream SourceKind = "stream"
)

func (k SourceKind) Valid() bool {
	return k == SourceFeed || k == SourceStream
}

func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown source kind %q", s)
	}
	return k, nil
}

// ErrorKind classifies entries of the error journal.
type ErrorKind string

const (
	KindTransient    ErrorKind = "Transient"
	KindClientError  ErrorKind = "ClientError"
	KindServerError  ErrorKind = "ServerError"
	KindMalformed    ErrorKind = "Malformed"
	KindSinkRejected ErrorKind = "SinkRejected"
)

type AttachmentKind string

const (
	AttachmentImage     AttachmentKind = "image"
	AttachmentVideo     AttachmentKind = "video"
	AttachmentAnimation AttachmentKind = "animation"
	AttachmentOther     AttachmentKind = "other"
)
