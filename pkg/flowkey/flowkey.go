// Package flowkey implements the flow key (C1): a packed, partial
// representation of a packet's header fields, together with the masks used
// to select a subset of those fields for classification.
package flowkey

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
)

// Word identifies one 64-bit slot in a Key/Mask. Only the words a packet (or
// a rule's mask) actually populates are meaningful; all others are zero and
// their bitmap bit is clear. The layout is deliberately coarse — each slot
// holds one logical field, not a tightly packed miniflow — so that Extract,
// Equal and MatchesInMask stay simple array walks.
type Word int

const (
	WordEthSrc Word = iota
	WordEthDst
	WordEthType
	WordVlanTCI
	WordIPv4Src
	WordIPv4Dst
	WordIPv6Src0
	WordIPv6Src1
	WordIPv6Dst0
	WordIPv6Dst1
	WordIPProto
	WordIPTos
	WordIPTTL
	WordL4Src
	WordL4Dst
	WordTCPFlags
	WordInPort
	WordRecircID
	WordTunnelID
	WordTunnelSrc
	WordConnTrackState
	NumWords
)

// forbidden is the set of words a management-surface mask may never select:
// connection-tracking fields, which must be rejected at the management
// boundary. recirc-id is an internal field the core itself sets on
// recirculation, not one an installer requests, so masks may select it.
var forbidden = map[Word]bool{
	WordConnTrackState: true,
}

// Key represents a packet's populated header fields.
type Key struct {
	Bitmap uint64
	Words  [NumWords]uint64
	Hash   uint32
}

// Mask has the same shape as Key; a set bitmap bit plus a non-zero word
// means "this field participates in matching", and the word value is the
// bitmask applied to the corresponding key word.
type Mask struct {
	Bitmap uint64
	Words  [NumWords]uint64
}

func wordBit(w Word) uint64 { return uint64(1) << uint(w) }

// Has reports whether word w is populated in the key.
func (k *Key) Has(w Word) bool { return k.Bitmap&wordBit(w) != 0 }

// Set populates word w with value v.
func (k *Key) Set(w Word, v uint64) {
	k.Bitmap |= wordBit(w)
	k.Words[w] = v
}

// Has reports whether mask m selects word w.
func (m *Mask) Has(w Word) bool { return m.Bitmap&wordBit(w) != 0 }

// Set makes mask m select word w with the given bitmask value.
func (m *Mask) Set(w Word, v uint64) {
	m.Bitmap |= wordBit(w)
	m.Words[w] = v
}

// Validate rejects masks that select forbidden fields, per §6's requirement
// that keys requesting connection-tracking fields are rejected.
func (m *Mask) Validate() error {
	for w, isForbidden := range forbidden {
		if isForbidden && m.Has(w) {
			return dperrors.MaskInvalid("flowkey", "Validate", "mask selects forbidden field")
		}
	}
	return nil
}

const ethHeaderLen = 14

// Extract walks a raw Ethernet frame and builds a Key from the headers
// present. Fields absent from the packet are absent from the key: Extract
// never guesses or zero-fills a word it didn't actually see.
func Extract(frame []byte) (Key, error) {
	var k Key
	if len(frame) < ethHeaderLen {
		return k, dperrors.MalformedPacket("flowkey", "Extract", "frame smaller than Ethernet header")
	}

	k.Set(WordEthDst, beToWord(frame[0:6]))
	k.Set(WordEthSrc, beToWord(frame[6:12]))
	ethType := binary.BigEndian.Uint16(frame[12:14])
	off := ethHeaderLen

	if ethType == 0x8100 && len(frame) >= off+4 {
		tci := binary.BigEndian.Uint16(frame[off : off+2])
		k.Set(WordVlanTCI, uint64(tci))
		ethType = binary.BigEndian.Uint16(frame[off+2 : off+4])
		off += 4
	}
	k.Set(WordEthType, uint64(ethType))

	switch ethType {
	case 0x0800: // IPv4
		if len(frame) < off+20 {
			return k, nil
		}
		ihl := int(frame[off]&0x0f) * 4
		k.Set(WordIPv4Src, uint64(binary.BigEndian.Uint32(frame[off+12:off+16])))
		k.Set(WordIPv4Dst, uint64(binary.BigEndian.Uint32(frame[off+16:off+20])))
		k.Set(WordIPProto, uint64(frame[off+9]))
		k.Set(WordIPTos, uint64(frame[off+1]))
		k.Set(WordIPTTL, uint64(frame[off+8]))
		extractL4(&k, frame, off+ihl, frame[off+9])
	case 0x86dd: // IPv6
		if len(frame) < off+40 {
			return k, nil
		}
		k.Set(WordIPv6Src0, binary.BigEndian.Uint64(frame[off+8:off+16]))
		k.Set(WordIPv6Src1, binary.BigEndian.Uint64(frame[off+16:off+24]))
		k.Set(WordIPv6Dst0, binary.BigEndian.Uint64(frame[off+24:off+32]))
		k.Set(WordIPv6Dst1, binary.BigEndian.Uint64(frame[off+32:off+40]))
		nextHdr := frame[off+6]
		k.Set(WordIPProto, uint64(nextHdr))
		extractL4(&k, frame, off+40, nextHdr)
	}

	return k, nil
}

func extractL4(k *Key, frame []byte, off int, proto byte) {
	switch proto {
	case 6: // TCP
		if len(frame) < off+14 {
			return
		}
		k.Set(WordL4Src, uint64(binary.BigEndian.Uint16(frame[off:off+2])))
		k.Set(WordL4Dst, uint64(binary.BigEndian.Uint16(frame[off+2:off+4])))
		k.Set(WordTCPFlags, uint64(frame[off+13]&0x3f))
	case 17, 132: // UDP, SCTP
		if len(frame) < off+4 {
			return
		}
		k.Set(WordL4Src, uint64(binary.BigEndian.Uint16(frame[off:off+2])))
		k.Set(WordL4Dst, uint64(binary.BigEndian.Uint16(frame[off+2:off+4])))
	case 1, 58: // ICMP, ICMPv6
		if len(frame) < off+2 {
			return
		}
		k.Set(WordL4Src, uint64(frame[off]))   // type
		k.Set(WordL4Dst, uint64(frame[off+1])) // code
	}
}

func beToWord(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Hash computes the EMC probe hash for key. When depth is non-zero (the
// packet has been recirculated), the depth is mixed in so that recirculated
// variants of the same packet do not collide in the EMC with the original.
func Hash(k *Key, depth int) uint32 {
	var buf [8]byte
	h := xxhash.New()
	binary.LittleEndian.PutUint64(buf[:], k.Bitmap)
	h.Write(buf[:])
	for i := 0; i < int(NumWords); i++ {
		if k.Bitmap&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		binary.LittleEndian.PutUint64(buf[:], k.Words[i])
		h.Write(buf[:])
	}
	if depth != 0 {
		binary.LittleEndian.PutUint64(buf[:], uint64(depth))
		h.Write(buf[:])
	}
	return uint32(h.Sum64())
}

// HashInMask hashes only the words mask selects, each ANDed with the mask's
// own word value first, and folds in the count of selected words. Equal
// (key AND mask) pairs are guaranteed to yield equal hashes regardless of
// values in unselected words.
func HashInMask(k *Key, m *Mask) uint32 {
	var buf [8]byte
	h := xxhash.New()
	selected := 0
	for i := 0; i < int(NumWords); i++ {
		w := Word(i)
		if !m.Has(w) {
			continue
		}
		selected++
		masked := k.Words[i] & m.Words[i]
		binary.LittleEndian.PutUint64(buf[:], masked)
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:4], uint32(selected))
	h.Write(buf[:4])
	return uint32(h.Sum64())
}

// Equal reports whether a and b are byte-identical: same bitmap, same
// packed words.
func Equal(a, b *Key) bool {
	if a.Bitmap != b.Bitmap {
		return false
	}
	for i := 0; i < int(NumWords); i++ {
		if a.Bitmap&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		if a.Words[i] != b.Words[i] {
			return false
		}
	}
	return true
}

// MatchesInMask reports whether probe matches (ruleKey, ruleMask): for
// every word ruleMask selects, probe_word AND mask_word must equal
// rule_key_word. Only selected words are examined.
func MatchesInMask(ruleKey *Key, ruleMask *Mask, probe *Key) bool {
	for i := 0; i < int(NumWords); i++ {
		w := Word(i)
		if !ruleMask.Has(w) {
			continue
		}
		if probe.Words[i]&ruleMask.Words[i] != ruleKey.Words[i] {
			return false
		}
	}
	return true
}

// Apply returns a masked copy of k, leaving k unchanged: words the mask does
// not select are absent from the result. The result is what an installer's
// rule.key must equal: the original key AND-ed with the mask.
func Apply(k *Key, m *Mask) Key {
	var out Key
	for i := 0; i < int(NumWords); i++ {
		w := Word(i)
		if !m.Has(w) {
			continue
		}
		out.Set(w, k.Words[i]&m.Words[i])
	}
	return out
}

// MaskHash hashes both the mask's bitmap and its words, so that two masks
// selecting different fields (even with coincidentally identical word
// values) hash differently.
func MaskHash(m *Mask) uint32 {
	var buf [8]byte
	h := xxhash.New()
	binary.LittleEndian.PutUint64(buf[:], m.Bitmap)
	h.Write(buf[:])
	for i := 0; i < int(NumWords); i++ {
		if m.Bitmap&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		binary.LittleEndian.PutUint64(buf[:], m.Words[i])
		h.Write(buf[:])
	}
	return uint32(h.Sum64())
}

// MaskEqual reports whether two masks select the same fields with the same
// bitmask values.
func MaskEqual(a, b *Mask) bool {
	if a.Bitmap != b.Bitmap {
		return false
	}
	for i := 0; i < int(NumWords); i++ {
		if a.Bitmap&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		if a.Words[i] != b.Words[i] {
			return false
		}
	}
	return true
}
