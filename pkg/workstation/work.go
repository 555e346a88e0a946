package workstation

import (
	"bytes"
	"net/url"

	"github.com/multibar/networkkit/pkg/network"
)

// Session selects the transport session for downloads and uploads.
type Session int

const (
	// Foreground is the interactive session without a cache.
	Foreground Session = iota
	// Background is the identified session that keeps transferring while
	// the host is suspended.
	Background
)

func (s Session) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// Kind enumerates the operations a Work describes.
type Kind int

const (
	KindShort Kind = iota
	KindDownload
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindDownload:
		return "download"
	case KindUpload:
		return "upload"
	default:
		return "short"
	}
}

// Work is the kind and payload of an operation. Build it with Short,
// Download or Upload.
type Work struct {
	Kind    Kind
	Request network.Request
	Session Session
	Payload []byte
}

// Short describes a one-shot fetch. Short work always runs on the
// foreground session.
func Short(req network.Request) Work {
	return Work{Kind: KindShort, Request: req, Session: Foreground}
}

// Download describes a download stored on completion.
func Download(req network.Request, session Session) Work {
	return Work{Kind: KindDownload, Request: req, Session: session}
}

// Upload describes sending data with req.
func Upload(data []byte, req network.Request, session Session) Work {
	return Work{Kind: KindUpload, Request: req, Session: session, Payload: bytes.Clone(data)}
}

// URL returns the request URL, nil when the request was never built.
func (w Work) URL() *url.URL { return w.Request.URL() }

// Key is the identity of the work, taken from its request.
func (w Work) Key() string { return w.Request.Key() }

// Equal reports whether w and other describe the same request.
func (w Work) Equal(other Work) bool { return w.Request.Equal(other.Request) }
