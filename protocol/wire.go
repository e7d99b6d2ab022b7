package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/golemfactory/golem/state"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed message")

type Kind uint8

const (
	KindGossip Kind = iota + 1
	KindStop
	KindLocRank
)

func (k Kind) String() string {
	switch k {
	case KindGossip:
		return "gossip"
	case KindStop:
		return "stop"
	case KindLocRank:
		return "loc_rank"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// field numbers
const (
	envId      protowire.Number = 1
	envFrom    protowire.Number = 2
	envDegree  protowire.Number = 3
	envKind    protowire.Number = 4
	envEntries protowire.Number = 5
	envLocRank protowire.Number = 6

	entryNode protowire.Number = 1
	entryComp protowire.Number = 2
	entryReq  protowire.Number = 3

	fracNum protowire.Number = 1
	fracDen protowire.Number = 2

	locSubject protowire.Number = 1
	locComp    protowire.Number = 2
	locReq     protowire.Number = 3
)

type LocRank struct {
	Subject state.NodeId
	Trust   state.TrustPair
}

// Envelope is a single datagram exchanged between neighbours
type Envelope struct {
	Id      uuid.UUID
	From    state.NodeId
	Degree  int
	Kind    Kind
	Entries state.GossipMessage
	LocRank *LocRank
}

func NewEnvelope(from state.NodeId, degree int, kind Kind) *Envelope {
	return &Envelope{
		Id:     uuid.New(),
		From:   from,
		Degree: degree,
		Kind:   kind,
	}
}

func appendFraction(b []byte, num protowire.Number, f state.Fraction) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, fracNum, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, math.Float64bits(f.Num))
	inner = protowire.AppendTag(inner, fracDen, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, math.Float64bits(f.Den))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func AppendEntry(b []byte, e state.GossipEntry) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, entryNode, protowire.BytesType)
	inner = protowire.AppendString(inner, string(e.Node))
	inner = appendFraction(inner, entryComp, e.Vector.Computing)
	inner = appendFraction(inner, entryReq, e.Vector.Requesting)
	b = protowire.AppendTag(b, envEntries, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// EntrySize is the encoded size of an entry inside an envelope
func EntrySize(e state.GossipEntry) int {
	return len(AppendEntry(nil, e))
}

// AppendHeader encodes every envelope field except the entries
func (e *Envelope) AppendHeader(b []byte) []byte {
	b = protowire.AppendTag(b, envId, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Id[:])
	b = protowire.AppendTag(b, envFrom, protowire.BytesType)
	b = protowire.AppendString(b, string(e.From))
	b = protowire.AppendTag(b, envDegree, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Degree))
	b = protowire.AppendTag(b, envKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.LocRank != nil {
		var inner []byte
		inner = protowire.AppendTag(inner, locSubject, protowire.BytesType)
		inner = protowire.AppendString(inner, string(e.LocRank.Subject))
		inner = protowire.AppendTag(inner, locComp, protowire.Fixed64Type)
		inner = protowire.AppendFixed64(inner, math.Float64bits(e.LocRank.Trust.Computing))
		inner = protowire.AppendTag(inner, locReq, protowire.Fixed64Type)
		inner = protowire.AppendFixed64(inner, math.Float64bits(e.LocRank.Trust.Requesting))
		b = protowire.AppendTag(b, envLocRank, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

func (e *Envelope) Marshal() []byte {
	b := e.AppendHeader(nil)
	for _, entry := range e.Entries {
		b = AppendEntry(b, entry)
	}
	return b
}

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates over the top level fields of b, skipping unknown fields
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func expect(num protowire.Number, typ, want protowire.Type) error {
	if typ != want {
		return fmt.Errorf("%w: field %d has wire type %d, expected %d", ErrMalformed, num, typ, want)
	}
	return nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if err := expect(num, typ, protowire.BytesType); err != nil {
		return nil, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeFloat(num protowire.Number, typ protowire.Type, b []byte) (float64, int, error) {
	if err := expect(num, typ, protowire.Fixed64Type); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
	}
	return math.Float64frombits(v), n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if err := expect(num, typ, protowire.VarintType); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
	}
	return v, n, nil
}

func decodeFraction(b []byte) (state.Fraction, error) {
	var f state.Fraction
	var hasNum, hasDen bool
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fracNum:
			v, n, err := consumeFloat(num, typ, b)
			f.Num, hasNum = v, true
			return n, err
		case fracDen:
			v, n, err := consumeFloat(num, typ, b)
			f.Den, hasDen = v, true
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return f, err
	}
	if !hasNum || !hasDen {
		return f, fmt.Errorf("%w: incomplete fraction", ErrMalformed)
	}
	if !f.Valid() {
		return f, fmt.Errorf("%w: invalid fraction %v/%v", ErrMalformed, f.Num, f.Den)
	}
	return f, nil
}

func decodeEntry(b []byte) (state.GossipEntry, error) {
	var e state.GossipEntry
	var hasComp, hasReq bool
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case entryNode:
			v, n, err := consumeBytes(num, typ, b)
			e.Node = state.NodeId(v)
			return n, err
		case entryComp, entryReq:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return n, err
			}
			f, err := decodeFraction(v)
			if err != nil {
				return n, fmt.Errorf("field %d: %w", num, err)
			}
			if num == entryComp {
				e.Vector.Computing, hasComp = f, true
			} else {
				e.Vector.Requesting, hasReq = f, true
			}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return e, err
	}
	if e.Node == "" {
		return e, fmt.Errorf("%w: entry without node", ErrMalformed)
	}
	if !hasComp || !hasReq {
		return e, fmt.Errorf("%w: entry %s is missing a pair", ErrMalformed, e.Node)
	}
	return e, nil
}

func decodeLocRank(b []byte) (*LocRank, error) {
	l := &LocRank{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case locSubject:
			v, n, err := consumeBytes(num, typ, b)
			l.Subject = state.NodeId(v)
			return n, err
		case locComp:
			v, n, err := consumeFloat(num, typ, b)
			l.Trust.Computing = v
			return n, err
		case locReq:
			v, n, err := consumeFloat(num, typ, b)
			l.Trust.Requesting = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if l.Subject == "" {
		return nil, fmt.Errorf("%w: loc_rank without subject", ErrMalformed)
	}
	for _, v := range []float64{l.Trust.Computing, l.Trust.Requesting} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: loc_rank of %s is not finite", ErrMalformed, l.Subject)
		}
	}
	l.Trust.Computing = state.ClipTrust(l.Trust.Computing)
	l.Trust.Requesting = state.ClipTrust(l.Trust.Requesting)
	return l, nil
}

// Unmarshal decodes an envelope. A malformed header fails the whole envelope; malformed
// entries are dropped individually and reported in the returned slice.
func Unmarshal(b []byte) (*Envelope, []error, error) {
	e := &Envelope{}
	var skipped []error
	var hasId bool
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case envId:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return n, err
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return n, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			e.Id, hasId = id, true
			return n, nil
		case envFrom:
			v, n, err := consumeBytes(num, typ, b)
			e.From = state.NodeId(v)
			return n, err
		case envDegree:
			v, n, err := consumeVarint(num, typ, b)
			e.Degree = int(min(v, math.MaxInt32))
			return n, err
		case envKind:
			v, n, err := consumeVarint(num, typ, b)
			e.Kind = Kind(min(v, math.MaxUint8))
			return n, err
		case envEntries:
			if typ != protowire.BytesType {
				skipped = append(skipped, expect(num, typ, protowire.BytesType))
				return 0, nil
			}
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return n, err
			}
			entry, err := decodeEntry(v)
			if err != nil {
				skipped = append(skipped, err)
			} else {
				e.Entries = append(e.Entries, entry)
			}
			return n, nil
		case envLocRank:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return n, err
			}
			l, err := decodeLocRank(v)
			if err != nil {
				return n, err
			}
			e.LocRank = l
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, skipped, err
	}
	if !hasId || e.From == "" {
		return nil, skipped, fmt.Errorf("%w: envelope without id or sender", ErrMalformed)
	}
	switch e.Kind {
	case KindGossip, KindStop:
	case KindLocRank:
		if e.LocRank == nil {
			return nil, skipped, fmt.Errorf("%w: loc_rank envelope without payload", ErrMalformed)
		}
	default:
		return nil, skipped, fmt.Errorf("%w: unknown kind %s", ErrMalformed, e.Kind)
	}
	return e, skipped, nil
}

// MarshalChunks splits the entries across as many envelopes as needed to keep every datagram
// within mtu bytes. Each chunk is given its own id. Entries are pair sums on the receiving side so
// splitting does not change what is merged.
func (e *Envelope) MarshalChunks(mtu int) [][]byte {
	chunks := make([][]byte, 0, 1)
	cur := *e
	cur.Entries = nil
	buf := cur.AppendHeader(nil)
	base := len(buf)
	count := 0
	for _, entry := range e.Entries {
		size := EntrySize(entry)
		if count > 0 && len(buf)+size > mtu {
			chunks = append(chunks, buf)
			cur.Id = uuid.New()
			buf = cur.AppendHeader(make([]byte, 0, base+size))
			count = 0
		}
		buf = AppendEntry(buf, entry)
		count++
	}
	return append(chunks, buf)
}
