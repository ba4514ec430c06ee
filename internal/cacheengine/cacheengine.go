// Package cacheengine implements the response cache described in
// spec.md §4.2: lookup by fingerprint, TTL-bound store, explicit clear,
// all sitting atop a backend.Backend. It deliberately knows nothing about
// ratecache.Request/Response — it operates on the neutral Entry shape so
// the root package can own the public data model without an import
// cycle.
package cacheengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/keyderive"
)

// Entry is the serializable shape of one cached HTTP response.
type Entry struct {
	Status  int
	Header  map[string][]string
	Body    []byte
	JSON    []byte // raw JSON bytes if the response has a decoded JSON payload; nil otherwise
	HasJSON bool
}

// Engine is the cache engine described in spec.md §4.2.
type Engine struct {
	b      backend.Backend
	prefix string
}

// New constructs an Engine over b, namespacing every key under prefix.
func New(b backend.Backend, prefix string) *Engine {
	return &Engine{b: b, prefix: prefix}
}

// Lookup returns the cached Entry for fp, or ok=false on a miss. It never
// returns an error for an ordinary miss; for a corrupt entry the bad key
// is evicted and Lookup returns ok=false together with a
// SerializationError, which the caller logs before treating the lookup as
// a miss in the rest of the dispatch pipeline — per spec.md §7
// ("SerializationError ... treated as a miss (log and evict the bad
// key)"), so this return shape folds that into one call: the caller only
// needs to branch on ok, but may inspect err for logging.
func (e *Engine) Lookup(ctx context.Context, fp keyderive.Fingerprint) (*Entry, bool, error) {
	key := keyderive.CacheKey(e.prefix, fp)
	raw, ok, err := e.b.Get(ctx, key)
	if err != nil {
		return nil, false, apperror.Backend("get", err)
	}
	if !ok {
		return nil, false, nil
	}
	entry, decodeErr := decode(raw)
	if decodeErr != nil {
		_ = e.b.Delete(ctx, key)
		return nil, false, apperror.Serialization(decodeErr)
	}
	return entry, true, nil
}

// Store serializes entry and writes it under fp's cache key with ttl.
// Storing twice with different TTLs resolves to the later TTL, since Set
// always overwrites both value and expiry (spec.md §8's idempotence
// property).
func (e *Engine) Store(ctx context.Context, fp keyderive.Fingerprint, entry *Entry, ttl time.Duration) error {
	raw := encode(entry)
	key := keyderive.CacheKey(e.prefix, fp)
	if err := e.b.Set(ctx, key, raw, ttl); err != nil {
		return apperror.Backend("set", err)
	}
	return nil
}

// Get is the index-style read access spec.md §4.2 calls for alongside
// lookup/store/clear: given a fingerprint the caller already computed,
// return its cached Entry directly or nil on a miss — Python's dict
// `__getitem__`-with-default analogue. It never surfaces a backend or
// decode error; both fold into a miss, the same contract Lookup already
// gives an ordinary cache miss.
func (e *Engine) Get(ctx context.Context, fp keyderive.Fingerprint) *Entry {
	entry, ok, _ := e.Lookup(ctx, fp)
	if !ok {
		return nil
	}
	return entry
}

// Clear removes every cache entry under this Engine's prefix.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.b.Clear(ctx, e.prefix+":cache:"); err != nil {
		return apperror.Backend("clear", err)
	}
	return nil
}

// encode serializes entry into the compact length-prefixed binary form
// described in spec.md §9 ("a compact binary encoding (length-prefixed
// fields) is chosen over JSON to avoid re-parsing bodies and to keep
// binary-safe headers intact"). Layout:
//
//	uint16 status
//	uint32 header-pair count
//	  for each pair: uint32 len + bytes name, uint32 len + bytes value
//	uint32 len + bytes body
//	byte   hasJSON (0 or 1)
//	uint32 len + bytes json (present only if hasJSON == 1)
func encode(e *Entry) []byte {
	var buf []byte
	buf = appendUint16(buf, uint16(e.Status))

	var pairCount uint32
	for _, vs := range e.Header {
		pairCount += uint32(len(vs))
	}
	buf = appendUint32(buf, pairCount)
	for name, vs := range e.Header {
		for _, v := range vs {
			buf = appendBytes(buf, []byte(name))
			buf = appendBytes(buf, []byte(v))
		}
	}

	buf = appendBytes(buf, e.Body)

	if e.HasJSON {
		buf = append(buf, 1)
		buf = appendBytes(buf, e.JSON)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decode(raw []byte) (*Entry, error) {
	r := &reader{buf: raw}

	status, err := r.uint16()
	if err != nil {
		return nil, err
	}
	pairCount, err := r.uint32()
	if err != nil {
		return nil, err
	}

	header := make(map[string][]string, pairCount)
	for i := uint32(0); i < pairCount; i++ {
		name, err := r.bytes()
		if err != nil {
			return nil, err
		}
		value, err := r.bytes()
		if err != nil {
			return nil, err
		}
		header[string(name)] = append(header[string(name)], string(value))
	}

	body, err := r.bytes()
	if err != nil {
		return nil, err
	}

	hasJSON, err := r.byte_()
	if err != nil {
		return nil, err
	}

	entry := &Entry{Status: int(status), Header: header, Body: body}
	if hasJSON == 1 {
		jsonBytes, err := r.bytes()
		if err != nil {
			return nil, err
		}
		entry.JSON = jsonBytes
		entry.HasJSON = true
	}
	return entry, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) uint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("cacheengine: truncated entry reading uint16 at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("cacheengine: truncated entry reading uint32 at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) byte_() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("cacheengine: truncated entry reading byte at offset %d", r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("cacheengine: truncated entry reading %d bytes at offset %d", n, r.pos)
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}
