// Package numbering issues client-side identifiers and provisional
// transaction numbers without a server round-trip.
package numbering

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultReceiptPrefix = "RCP"
	DefaultBillPrefix    = "BILL"
)

// NewLocalID returns a time-ordered UUIDv7 string.
func NewLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fallbackID()
	}
	return id.String()
}

func fallbackID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("local-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("local-%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}

type Sequencer interface {
	NextSequence(ctx context.Context, key string) (int64, error)
}

type Numberer struct {
	seq Sequencer
	now func() time.Time
}

func New(seq Sequencer, now func() time.Time) *Numberer {
	if now == nil {
		now = time.Now
	}
	return &Numberer{seq: seq, now: now}
}

// Next reserves the next provisional number for prefix on the current UTC
// day. Numbers burned by a failed save are not reused.
func (n *Numberer) Next(ctx context.Context, prefix string) (string, error) {
	prefix = NormalizePrefix(prefix)
	if prefix == "" {
		return "", fmt.Errorf("next number: empty prefix")
	}
	day := n.now().UTC().Format("20060102")
	seq, err := n.seq.NextSequence(ctx, SequenceKey(prefix, day))
	if err != nil {
		return "", fmt.Errorf("next number: %w", err)
	}
	return Format(prefix, day, seq), nil
}

func SequenceKey(prefix string, day string) string {
	return prefix + "|" + day
}

func Format(prefix string, day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day, seq)
}

func NormalizePrefix(prefix string) string {
	return strings.ToUpper(strings.TrimSpace(prefix))
}
