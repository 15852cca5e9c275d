package fxcache

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// MediaOrigin identifies a requested clip:
// the source it is cut from and the time window within that source.
type MediaOrigin struct {
	Locator string        `json:"locator"`
	Start   time.Duration `json:"start"`
	Length  time.Duration `json:"length"`
}

func (o MediaOrigin) String() string {
	return fmt.Sprintf("%s [%s+%s]", o.Locator, o.Start, o.Length)
}

// Key computes the cache key of a clip.
//
// The hashed encoding is the locator bytes
// followed by the start and length,
// each as a big-endian uint64 count of whole seconds.
// Sub-second precision does not take part in the key,
// and a negative start or length counts as zero,
// so callers that must tell those apart reject negative values first
// (as draft.NewRecord, the server, and the fx command do).
func (o MediaOrigin) Key() Key {
	var (
		buf [8]byte
		h   = sha256.New()
	)
	h.Write([]byte(o.Locator))
	binary.BigEndian.PutUint64(buf[:], seconds(o.Start))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], seconds(o.Length))
	h.Write(buf[:])

	var k Key
	h.Sum(k[:0])
	return k
}

func seconds(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// Key is the address of a blob in a Store: the SHA2-256 hash of a MediaOrigin.
type Key [sha256.Size]byte

// Zero is the zero value of a Key.
var Zero Key

// String returns the lowercase hex encoding of k.
// This is the form stores use for file and object names.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero tells whether k is the zero Key.
func (k Key) IsZero() bool {
	return k == Zero
}

// Less tells whether k sorts before other.
func (k Key) Less(other Key) bool {
	return bytes.Compare(k[:], other[:]) < 0
}

// FromHex sets k from its hex encoding.
func (k *Key) FromHex(s string) error {
	if len(s) != 2*sha256.Size {
		return errors.New("wrong length")
	}
	_, err := hex.Decode(k[:], []byte(s))
	return err
}

// KeyFromHex parses the hex encoding of a Key.
func KeyFromHex(s string) (Key, error) {
	var out Key
	err := out.FromHex(s)
	return out, err
}

// KeyFromBytes copies b into a Key.
func KeyFromBytes(b []byte) Key {
	var out Key
	copy(out[:], b)
	return out
}

// Value implements driver.Valuer.
func (k Key) Value() (driver.Value, error) {
	return k[:], nil
}

// Scan implements sql.Scanner.
func (k *Key) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into a Key", src)
	}
	if len(b) != len(k) {
		return fmt.Errorf("cannot scan %d bytes into a Key", len(b))
	}
	copy(k[:], b)
	return nil
}
