// Package cap renders alert records into Common Alerting Protocol 1.2
// documents. Building is a pure, deterministic mapping from a record plus
// the event-name dictionary; everything else in the document is a constant
// appropriate to a live public alert.
package cap

import (
	"encoding/xml"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cctl/boiler/internal/store"
	"github.com/cctl/boiler/internal/upstream"
)

// Fixed document constants.
const (
	capNamespace = "urn:oasis:names:tc:emergency:cap:1.2"
	sender       = "BOILER"
	source       = "BOILER-CAP"
	senderName   = "BOILER BY CABLE CONTRIBUTES TO LIFE"
	alertCode    = "IPAWSv1.0"
	audioMIME    = "audio/x-ipaws-audio-mp3"
	resourceDesc = "EAS Broadcast Content"

	// UnknownEventName is rendered for event codes absent from the
	// dictionary.
	UnknownEventName = "Unknown Event"
)

// Document is a CAP 1.2 alert document. Field order matches the schema's
// required element order.
type Document struct {
	XMLName    xml.Name `xml:"alert"`
	Namespace  string   `xml:"xmlns,attr"`
	Identifier string   `xml:"identifier"`
	Sender     string   `xml:"sender"`
	Sent       string   `xml:"sent"`
	Status     string   `xml:"status"`
	MsgType    string   `xml:"msgType"`
	Source     string   `xml:"source"`
	Scope      string   `xml:"scope"`
	Addresses  string   `xml:"addresses"`
	Code       string   `xml:"code"`
	Info       Info     `xml:"info"`
}

// Info is the single info block of a generated document.
type Info struct {
	Language    string      `xml:"language"`
	Category    string      `xml:"category"`
	Event       string      `xml:"event"`
	Urgency     string      `xml:"urgency"`
	Severity    string      `xml:"severity"`
	Certainty   string      `xml:"certainty"`
	EventCode   NamedValue  `xml:"eventCode"`
	Effective   string      `xml:"effective"`
	Expires     string      `xml:"expires"`
	SenderName  string      `xml:"senderName"`
	Headline    string      `xml:"headline"`
	Description string      `xml:"description"`
	Parameters  []NamedValue `xml:"parameter"`
	Resource    *Resource   `xml:"resource,omitempty"`
	Area        Area        `xml:"area"`
}

// NamedValue is a CAP valueName/value pair.
type NamedValue struct {
	ValueName string `xml:"valueName"`
	Value     string `xml:"value"`
}

// Resource references the alert's audio.
type Resource struct {
	ResourceDesc string `xml:"resourceDesc"`
	MimeType     string `xml:"mimeType"`
	URI          string `xml:"uri"`
}

// Area carries one geocode per area code in the record.
type Area struct {
	Geocodes []NamedValue `xml:"geocode"`
}

// Builder renders alert records into CAP documents.
type Builder struct {
	events            map[string]string
	alertsURL         string
	storeLocalAudio   bool
	trimEncoderPrefix bool
	logger            zerolog.Logger
}

// NewBuilder creates a document builder. alertsURL is the public base URL
// under which per-alert files are served.
func NewBuilder(events map[string]string, alertsURL string, storeLocalAudio, trimEncoderPrefix bool, logger zerolog.Logger) *Builder {
	return &Builder{
		events:            events,
		alertsURL:         alertsURL,
		storeLocalAudio:   storeLocalAudio,
		trimEncoderPrefix: trimEncoderPrefix,
		logger:            logger.With().Str("component", "cap").Logger(),
	}
}

// Build renders the record into document bytes. localAudioFile names the
// audio file persisted in the alert's bundle, or is empty when no local
// audio exists.
func (b *Builder) Build(rec upstream.Record, localAudioFile string) ([]byte, error) {
	if rec.ID == "" {
		return nil, store.ErrMissingID
	}

	eventName := b.events[rec.EventCode]
	if eventName == "" {
		eventName = UnknownEventName
	}

	description := rec.Translation
	if b.trimEncoderPrefix {
		description = TrimEncoderPrefix(rec.Translation)
	}

	doc := Document{
		Namespace:  capNamespace,
		Identifier: fmt.Sprintf("Boiler-%s", rec.Hash),
		Sender:     sender,
		// Downstream ENDECs require an explicit UTC offset on every
		// timestamp; the upstream strings carry none.
		Sent:      rec.StartTime + "-00:00",
		Status:    "Actual",
		MsgType:   "Alert",
		Source:    source,
		Scope:     "Public",
		Addresses: "0",
		Code:      alertCode,
		Info: Info{
			Language:  "en-US",
			Category:  "Safety",
			Event:     eventName,
			Urgency:   "Immediate",
			Severity:  "Severe",
			Certainty: "Observed",
			EventCode: NamedValue{
				ValueName: "SAME",
				Value:     rec.EventCode,
			},
			Effective:   rec.StartTime + "-00:00",
			Expires:     rec.EndTime + "-00:00",
			SenderName:  senderName,
			Headline:    fmt.Sprintf("%s via Boiler", eventName),
			Description: description,
			Parameters: []NamedValue{
				{ValueName: "EAS-ORG", Value: rec.Originator},
				{ValueName: "timezone", Value: "UTC"},
				{ValueName: "BLOCKCHANNEL", Value: "CMAS"},
			},
			Resource: b.audioResource(rec, localAudioFile),
		},
	}

	for _, code := range rec.FIPSCodes {
		doc.Info.Area.Geocodes = append(doc.Info.Area.Geocodes, NamedValue{
			ValueName: "SAME",
			Value:     code,
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize CAP document for alert %s: %w", rec.ID, err)
	}
	return append([]byte(xml.Header), out...), nil
}

// audioResource builds the resource block, or nil when the alert has no
// usable audio. With local storage enabled the URI points at the served
// local copy; otherwise it points at the original upstream URL, which still
// contains the original broadcast headers and attention tone.
func (b *Builder) audioResource(rec upstream.Record, localAudioFile string) *Resource {
	if b.storeLocalAudio {
		if localAudioFile == "" {
			b.logger.Warn().Str("alertId", rec.ID).Msg("No audio for this alert")
			return nil
		}
		return &Resource{
			ResourceDesc: resourceDesc,
			MimeType:     audioMIME,
			URI:          fmt.Sprintf("%s/%s/%s", b.alertsURL, rec.ID, localAudioFile),
		}
	}

	if rec.AudioURL == "" {
		b.logger.Warn().Str("alertId", rec.ID).Msg("No audio for this alert")
		return nil
	}
	b.logger.Warn().Str("alertId", rec.ID).
		Msg("Audio includes original broadcast headers and attention tone")
	return &Resource{
		ResourceDesc: resourceDesc,
		MimeType:     audioMIME,
		URI:          rec.AudioURL,
	}
}
