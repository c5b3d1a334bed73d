// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapper encodes and decodes CloudEvents to and from the document
// shape stored by a backend (spec §4.B). Grounded on the teacher's
// internal/db sqlc-generated row<->domain conversion pattern, generalized
// to a document-map-producing pair of pure functions rather than generated
// code, since the document shape here varies with configuration
// (occurrent.TimeRepresentation, occurrent.EventFormat) instead of being
// fixed by a SQL schema.
package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/occurrent-go/occurrent/pkg/occurrent"
)

// Field names used in the stored document, matching the CloudEvent
// attribute names except where a backend-private encoding differs (time,
// data).
const (
	FieldID              = "id"
	FieldSource          = "source"
	FieldType            = "type"
	FieldSpecVersion     = "specversion"
	FieldSubject         = "subject"
	FieldDataContentType = "datacontenttype"
	FieldDataSchema      = "dataschema"
	FieldStreamID        = occurrent.StreamIDExtension
	FieldStreamVersion   = occurrent.StreamVersionExtension
	FieldTime            = "time"
	FieldData            = "data"
	FieldDataBase64      = "data_base64"
)

// Mapper converts between occurrent.CloudEvent and the bson.M document
// representation stored by a backend, honoring the TimeRepresentation and
// EventFormat a Store was configured with.
type Mapper struct {
	timeRepr occurrent.TimeRepresentation
	format   occurrent.EventFormat
}

// New builds a Mapper for the given time representation and event format.
func New(timeRepr occurrent.TimeRepresentation, format occurrent.EventFormat) Mapper {
	return Mapper{timeRepr: timeRepr, format: format}
}

// ToDocument encodes e as a document map ready for insertion. e must
// already carry streamid/streamversion extensions (assigned by the store
// before mapping).
func (m Mapper) ToDocument(e occurrent.CloudEvent) (map[string]any, error) {
	streamID, err := occurrent.StreamIDOf(e)
	if err != nil {
		return nil, err
	}
	version, err := occurrent.StreamVersionOf(e)
	if err != nil {
		return nil, err
	}

	doc := map[string]any{
		FieldID:             e.ID(),
		FieldSource:         e.Source(),
		FieldType:           e.Type(),
		FieldSpecVersion:    e.SpecVersion(),
		FieldSubject:        e.Subject(),
		FieldDataContentType: e.DataContentType(),
		FieldDataSchema:     e.DataSchema(),
		FieldStreamID:       streamID,
		FieldStreamVersion:  version,
	}

	t, err := m.encodeTime(e.Time())
	if err != nil {
		return nil, err
	}
	doc[FieldTime] = t

	dataField, dataValue, err := m.encodeData(e)
	if err != nil {
		return nil, err
	}
	doc[dataField] = dataValue

	for k, v := range e.Extensions() {
		if k == FieldStreamID || k == FieldStreamVersion {
			continue
		}
		doc[k] = v
	}

	return doc, nil
}

// FromDocument decodes a stored document back into a CloudEvent. The
// result is the round-trip inverse of ToDocument: re-encoding it produces
// an equal document. A backend-private Mongo `_id` field, if still
// present, is ignored rather than decoded as an extension.
func (m Mapper) FromDocument(doc map[string]any) (occurrent.CloudEvent, error) {
	e := cloudevents.NewEvent()

	id, _ := doc[FieldID].(string)
	source, _ := doc[FieldSource].(string)
	typ, _ := doc[FieldType].(string)
	e.SetID(id)
	e.SetSource(source)
	e.SetType(typ)

	if subject, ok := doc[FieldSubject].(string); ok && subject != "" {
		e.SetSubject(subject)
	}
	if schema, ok := doc[FieldDataSchema].(string); ok && schema != "" {
		e.SetDataSchema(schema)
	}

	t, err := m.decodeTime(doc[FieldTime])
	if err != nil {
		return occurrent.CloudEvent{}, err
	}
	if !t.IsZero() {
		e.SetTime(t)
	}

	streamID, ok := doc[FieldStreamID].(string)
	if !ok || streamID == "" {
		return occurrent.CloudEvent{}, occurrent.NewInvalidArgumentError("document is missing %q", FieldStreamID)
	}
	version, err := toInt64(doc[FieldStreamVersion])
	if err != nil {
		return occurrent.CloudEvent{}, occurrent.NewInvalidArgumentError("document has invalid %q: %v", FieldStreamVersion, err)
	}

	contentType, _ := doc[FieldDataContentType].(string)

	if err := m.decodeData(&e, contentType, doc); err != nil {
		return occurrent.CloudEvent{}, err
	}

	for k, v := range doc {
		switch k {
		case FieldID, FieldSource, FieldType, FieldSpecVersion, FieldSubject,
			FieldDataContentType, FieldDataSchema, FieldTime, FieldData,
			FieldDataBase64, FieldStreamID, FieldStreamVersion, "_id":
			continue
		}
		e.SetExtension(k, v)
	}

	return occurrent.WithStream(e, streamID, version), nil
}

func (m Mapper) encodeTime(t time.Time) (any, error) {
	if t.IsZero() {
		return nil, nil
	}
	switch m.timeRepr {
	case occurrent.RFC3339String:
		return t.Format(time.RFC3339Nano), nil
	case occurrent.DateMillis:
		if t.Nanosecond()%int(time.Millisecond) != 0 {
			return nil, occurrent.NewInvalidArgumentError("event time %s carries sub-millisecond precision; truncate to milliseconds or use RFC3339_STRING", t)
		}
		if _, offset := t.Zone(); offset != 0 && t.Location() != time.UTC {
			return nil, occurrent.NewInvalidArgumentError("event time %s is not UTC; convert to UTC or use RFC3339_STRING", t)
		}
		return t.UTC().Truncate(time.Millisecond), nil
	default:
		return nil, occurrent.NewInvalidArgumentError("unsupported time representation %v", m.timeRepr)
	}
}

// EncodeTime exposes encodeTime for a store's query-side condition
// lowering: a time-attribute filter condition carries a time.Time Go
// value, which must be encoded identically to how ToDocument stores it or
// a backend-side comparison against the stored field will never match.
func (m Mapper) EncodeTime(t time.Time) (any, error) {
	return m.encodeTime(t)
}

func (m Mapper) decodeTime(raw any) (time.Time, error) {
	if raw == nil {
		return time.Time{}, nil
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, v)
	case time.Time:
		return v, nil
	default:
		return time.Time{}, occurrent.NewInvalidArgumentError("unsupported stored time value %T", raw)
	}
}

// encodeData returns which field the data belongs under (structured
// `data` or raw `data_base64`) and its value, per spec §4.B: events whose
// datacontenttype matches the configured StructuredContentType are stored
// as a native sub-document so they are queryable via data.* filter paths;
// all others are stored as opaque bytes.
func (m Mapper) encodeData(e occurrent.CloudEvent) (string, any, error) {
	raw := e.Data()
	if len(raw) == 0 {
		return FieldData, nil, nil
	}
	if e.DataContentType() == m.format.StructuredContentType {
		var structured map[string]any
		if err := json.Unmarshal(raw, &structured); err != nil {
			return "", nil, occurrent.NewInvalidArgumentError("event %q declares %q but its data is not a JSON object: %v", e.ID(), m.format.StructuredContentType, err)
		}
		return FieldData, structured, nil
	}
	return FieldDataBase64, raw, nil
}

func (m Mapper) decodeData(e *occurrent.CloudEvent, contentType string, doc map[string]any) error {
	if contentType != "" {
		e.SetDataContentType(contentType)
	}
	if raw, ok := doc[FieldDataBase64]; ok && raw != nil {
		b, ok := raw.([]byte)
		if !ok {
			return occurrent.NewInvalidArgumentError("document %q is not raw bytes", FieldDataBase64)
		}
		return e.SetData(contentType, b)
	}
	if structured, ok := doc[FieldData]; ok && structured != nil {
		b, err := json.Marshal(structured)
		if err != nil {
			return fmt.Errorf("re-encoding stored structured data: %w", err)
		}
		return e.SetData(contentType, b)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
