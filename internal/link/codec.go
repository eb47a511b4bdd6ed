// Package link encodes archived message identifiers into opaque deep-link tokens.
//
// A token is the URL-safe base64 (padding stripped) of
//
//	get-<id*m>          single message
//	get-<a*m>-<b*m>     contiguous range a..b
//
// where m is the absolute value of the archival channel id. Scaled values use
// arbitrary precision: channel ids are ~1e12, so the product overflows int64
// for message ids past a few million.
package link

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidLocator = errors.New("invalid locator")
)

const tokenTag = "get"

// DefaultMaxSpan bounds range tokens when no explicit cap is configured.
// Tokens are forgeable by any link holder, so there is no unlimited mode.
const DefaultMaxSpan = 10_000

// Locator references one archived message or an inclusive range of them.
type Locator struct {
	Start int64
	End   int64
	Range bool
}

func Single(id int64) Locator { return Locator{Start: id, End: id} }

// Span builds a range locator. start > end is allowed and traverses descending.
func Span(start, end int64) Locator { return Locator{Start: start, End: end, Range: true} }

// Len is the number of identifiers the locator covers.
func (l Locator) Len() int64 {
	if !l.Range {
		return 1
	}
	if l.End >= l.Start {
		return l.End - l.Start + 1
	}
	return l.Start - l.End + 1
}

// IDs expands the locator in traversal order.
func (l Locator) IDs() []int {
	if !l.Range {
		return []int{int(l.Start)}
	}
	out := make([]int, 0, l.Len())
	if l.Start <= l.End {
		for id := l.Start; id <= l.End; id++ {
			out = append(out, int(id))
		}
		return out
	}
	for id := l.Start; id >= l.End; id-- {
		out = append(out, int(id))
	}
	return out
}

func (l Locator) String() string {
	if !l.Range {
		return fmt.Sprintf("single(%d)", l.Start)
	}
	return fmt.Sprintf("range(%d..%d)", l.Start, l.End)
}

func (l Locator) validate(maxSpan int64) error {
	if l.Start <= 0 || l.End <= 0 {
		return fmt.Errorf("%w: identifiers must be positive", ErrInvalidLocator)
	}
	if !l.Range && l.Start != l.End {
		return fmt.Errorf("%w: single locator with distinct bounds", ErrInvalidLocator)
	}
	if l.Len() > maxSpan {
		return fmt.Errorf("%w: range covers %d messages (max %d)", ErrInvalidLocator, l.Len(), maxSpan)
	}
	return nil
}

// Codec is safe for concurrent use.
type Codec struct {
	magnitude *big.Int
	maxSpan   int64
}

// NewCodec builds a codec salted with the archival channel id. maxSpan caps the
// number of messages a range token may cover; 0 or less selects DefaultMaxSpan.
func NewCodec(channelID int64, maxSpan int64) (*Codec, error) {
	if channelID == 0 {
		return nil, errors.New("link: channel id is required")
	}
	m := new(big.Int).Abs(big.NewInt(channelID))
	if maxSpan <= 0 {
		maxSpan = DefaultMaxSpan
	}
	return &Codec{magnitude: m, maxSpan: maxSpan}, nil
}

// Magnitude returns the channel magnitude used as the salt.
func (c *Codec) Magnitude() int64 { return c.magnitude.Int64() }

func (c *Codec) Encode(l Locator) (string, error) {
	if err := l.validate(c.maxSpan); err != nil {
		return "", err
	}
	payload := tokenTag + "-" + c.scale(l.Start)
	if l.Range {
		payload += "-" + c.scale(l.End)
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(payload)), "="), nil
}

func (c *Codec) Decode(token string) (Locator, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Locator{}, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	token = strings.TrimRight(token, "=")
	if pad := (4 - len(token)%4) % 4; pad > 0 {
		token += strings.Repeat("=", pad)
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	fields := strings.Split(string(raw), "-")
	if len(fields) != 2 && len(fields) != 3 {
		return Locator{}, fmt.Errorf("%w: %d fields", ErrMalformedToken, len(fields))
	}
	if fields[0] != tokenTag {
		return Locator{}, fmt.Errorf("%w: unknown tag %q", ErrMalformedToken, fields[0])
	}

	ids := make([]int64, 0, 2)
	for _, f := range fields[1:] {
		id, err := c.unscale(f)
		if err != nil {
			return Locator{}, err
		}
		ids = append(ids, id)
	}

	var l Locator
	if len(ids) == 1 {
		l = Single(ids[0])
	} else {
		l = Span(ids[0], ids[1])
	}
	if err := l.validate(c.maxSpan); err != nil {
		return Locator{}, err
	}
	return l, nil
}

func (c *Codec) scale(id int64) string {
	return new(big.Int).Mul(big.NewInt(id), c.magnitude).String()
}

func (c *Codec) unscale(field string) (int64, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: empty field", ErrMalformedToken)
	}
	v, ok := new(big.Int).SetString(field, 10)
	if !ok {
		return 0, fmt.Errorf("%w: field %q is not an integer", ErrMalformedToken, field)
	}
	q, r := new(big.Int).QuoRem(v, c.magnitude, new(big.Int))
	if r.Sign() != 0 {
		return 0, fmt.Errorf("%w: field not divisible by channel magnitude", ErrMalformedToken)
	}
	if !q.IsInt64() {
		return 0, fmt.Errorf("%w: identifier out of range", ErrInvalidLocator)
	}
	return q.Int64(), nil
}
